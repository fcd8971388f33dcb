package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Snapshot is one detection reading reported by the backend for a poll tick.
type Snapshot struct {
	PersonCount    int     `json:"num_persons"`
	MaleCount      int     `json:"num_males"`
	FemaleCount    int     `json:"num_females"`
	Status         string  `json:"status"`
	CoverageStatus string  `json:"coverage_status"`
	CoverageRatio  float64 `json:"coverage_ratio"`
}

// ErrMalformedSnapshot reports a payload that is not a complete snapshot.
var ErrMalformedSnapshot = errors.New("malformed detection snapshot")

// wireSnapshot uses pointers so absent fields can be told apart from zero.
type wireSnapshot struct {
	PersonCount    *int     `json:"num_persons"`
	MaleCount      *int     `json:"num_males"`
	FemaleCount    *int     `json:"num_females"`
	Status         *string  `json:"status"`
	CoverageStatus *string  `json:"coverage_status"`
	CoverageRatio  *float64 `json:"coverage_ratio"`
}

// DecodeSnapshot parses a detection_info payload. Every field is required and
// counts must be non-negative; coverage_ratio is accepted as-is.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	missing := ""
	switch {
	case w.PersonCount == nil:
		missing = "num_persons"
	case w.MaleCount == nil:
		missing = "num_males"
	case w.FemaleCount == nil:
		missing = "num_females"
	case w.Status == nil:
		missing = "status"
	case w.CoverageStatus == nil:
		missing = "coverage_status"
	case w.CoverageRatio == nil:
		missing = "coverage_ratio"
	}
	if missing != "" {
		return Snapshot{}, fmt.Errorf("%w: missing %s", ErrMalformedSnapshot, missing)
	}

	s := Snapshot{
		PersonCount:    *w.PersonCount,
		MaleCount:      *w.MaleCount,
		FemaleCount:    *w.FemaleCount,
		Status:         *w.Status,
		CoverageStatus: *w.CoverageStatus,
		CoverageRatio:  *w.CoverageRatio,
	}
	if s.PersonCount < 0 || s.MaleCount < 0 || s.FemaleCount < 0 {
		return Snapshot{}, fmt.Errorf("%w: negative count", ErrMalformedSnapshot)
	}
	return s, nil
}

// DefaultSnapshot is what the backend reports before its first reading.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Status:         "No person detected",
		CoverageStatus: "Coverage: 0.00",
	}
}
