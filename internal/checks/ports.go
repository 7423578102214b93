package checks

import (
	"strconv"
	"strings"
)

// PortInRange reports whether port falls inside spec, where spec is a single
// port ("22"), an inclusive range ("20-30") or a wildcard ("*" or "").
// Unparseable specs never match.
func PortInRange(spec string, port int) bool {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "*" {
		return true
	}
	lo, hi, isRange := strings.Cut(spec, "-")
	from, err := strconv.Atoi(lo)
	if err != nil {
		return false
	}
	to := from
	if isRange {
		if to, err = strconv.Atoi(hi); err != nil {
			return false
		}
	}
	return from <= port && port <= to
}
