package checks

import (
	"context"
	"testing"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/credentials"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
)

type stubCheck struct {
	id       string
	phase    int
	provider models.Provider
}

func (s stubCheck) ID() string                { return s.id }
func (s stubCheck) Name() string              { return "stub " + s.id }
func (s stubCheck) Phase() int                { return s.phase }
func (s stubCheck) Provider() models.Provider { return s.provider }
func (s stubCheck) Global() bool              { return true }
func (s stubCheck) Run(context.Context, credentials.Handle, Scope) ([]models.Finding, error) {
	return nil, nil
}

func TestRegistry_ForPhaseFiltersByProviderAndPhase(t *testing.T) {
	r := NewRegistry()
	r.Register(stubCheck{"A-1", 1, models.ProviderAWS})
	r.Register(stubCheck{"A-2", 1, models.ProviderAWS})
	r.Register(stubCheck{"G-1", 1, models.ProviderGCP})
	r.Register(stubCheck{"A-3", 4, models.ProviderAWS})

	got := r.ForPhase(models.ProviderAWS, 1)
	if len(got) != 2 || got[0].ID() != "A-1" || got[1].ID() != "A-2" {
		t.Fatalf("ForPhase(aws, 1): got %v; want [A-1 A-2] in order", got)
	}
	if got := r.ForPhase(models.ProviderAzure, 1); len(got) != 0 {
		t.Errorf("ForPhase(azure, 1): got %d checks; want 0", len(got))
	}
}

func TestRegistry_DuplicateIDPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("want panic on duplicate ID")
		}
	}()
	r := NewRegistry()
	r.Register(stubCheck{"A-1", 1, models.ProviderAWS})
	r.Register(stubCheck{"A-1", 2, models.ProviderAWS})
}

func TestRegistry_UnknownPhasePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("want panic on unknown phase")
		}
	}()
	NewRegistry().Register(stubCheck{"A-1", 99, models.ProviderAWS})
}

func TestCatalogue_OrderedAndComplete(t *testing.T) {
	if len(Catalogue) != 25 {
		t.Fatalf("catalogue size: got %d; want 25", len(Catalogue))
	}
	for i, p := range Catalogue {
		if p.Number != i+1 {
			t.Errorf("catalogue[%d].Number = %d; want %d", i, p.Number, i+1)
		}
		if p.Name == "" {
			t.Errorf("catalogue[%d] has empty name", i)
		}
	}
}

func TestNewFinding_StampsCheckIdentity(t *testing.T) {
	c := stubCheck{"IAM-C01", 1, models.ProviderAWS}
	f := NewFinding(c, models.SeverityHigh, "user/alice", GlobalScope)
	if f.FindingID != "IAM-C01" || f.PhaseNumber != 1 {
		t.Errorf("identity: got %q/%d; want IAM-C01/1", f.FindingID, f.PhaseNumber)
	}
	if f.Status != models.FindingOpen {
		t.Errorf("status: got %q; want open", f.Status)
	}
	if f.Title != "stub IAM-C01" {
		t.Errorf("title: got %q", f.Title)
	}
}

// ── ports ────────────────────────────────────────────────────────────────────

func TestPortInRange(t *testing.T) {
	cases := map[string]bool{
		"22":    true,
		"20-25": true,
		"*":     true,
		"":      true,
		"23":    false,
		"80-90": false,
		"ssh":   false,
		"20-x":  false,
	}
	for spec, want := range cases {
		if got := PortInRange(spec, 22); got != want {
			t.Errorf("PortInRange(%q, 22) = %v; want %v", spec, got, want)
		}
	}
}
