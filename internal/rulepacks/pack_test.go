package rulepacks

import (
	"testing"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

func TestDefault_EveryProviderHasChecks(t *testing.T) {
	reg := Default()
	counts := map[models.Provider]int{}
	for _, c := range reg.All() {
		counts[c.Provider()]++
	}
	for _, p := range models.Providers {
		if counts[p] == 0 {
			t.Errorf("provider %s has no checks", p)
		}
	}
}

func TestDefault_IDsUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, id := range Default().IDs() {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
