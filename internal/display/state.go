// Package display derives the operator-facing text fields and warning flags
// from a detection snapshot.
package display

import (
	"fmt"
	"strings"

	"github.com/dj-oyu/safety-monitor/internal/telemetry"
)

// CoverageThreshold is the inclusive coverage ratio at which the coverage
// field is flagged and an alert is raised.
const CoverageThreshold = 0.4

// Status substrings that flag the status field. Matching is case-sensitive.
var statusWarningMarkers = []string{"surrounded", "Warning"}

// State is the rendered form of one reading.
type State struct {
	PersonCount     string `json:"person_count"`
	MaleCount       string `json:"male_count"`
	FemaleCount     string `json:"female_count"`
	Status          string `json:"status"`
	Coverage        string `json:"coverage"`
	StatusWarning   bool   `json:"status_warning"`
	CoverageWarning bool   `json:"coverage_warning"`
}

// Default is the state shown while no session is running.
func Default() State {
	return State{
		PersonCount: "Person Count: 0",
		MaleCount:   "Males: 0",
		FemaleCount: "Females: 0",
		Status:      "No person detected",
		Coverage:    "Coverage: 0.00",
	}
}

// FromSnapshot recomputes every field from s.
func FromSnapshot(s telemetry.Snapshot) State {
	return State{
		PersonCount:     fmt.Sprintf("Person Count: %d", s.PersonCount),
		MaleCount:       fmt.Sprintf("Males: %d", s.MaleCount),
		FemaleCount:     fmt.Sprintf("Females: %d", s.FemaleCount),
		Status:          s.Status,
		Coverage:        s.CoverageStatus,
		StatusWarning:   IsStatusWarning(s.Status),
		CoverageWarning: IsCoverageWarning(s.CoverageRatio),
	}
}

// IsStatusWarning reports whether the backend status text marks a warning.
func IsStatusWarning(status string) bool {
	for _, marker := range statusWarningMarkers {
		if strings.Contains(status, marker) {
			return true
		}
	}
	return false
}

func IsCoverageWarning(ratio float64) bool {
	return ratio >= CoverageThreshold
}

// ShouldAlert is the alert predicate for a successful tick. It is the same
// predicate as the two warning flags, so every flagged tick alerts.
func ShouldAlert(s telemetry.Snapshot) bool {
	return IsStatusWarning(s.Status) || IsCoverageWarning(s.CoverageRatio)
}

// Warning reports whether either flag is set.
func (s State) Warning() bool {
	return s.StatusWarning || s.CoverageWarning
}
