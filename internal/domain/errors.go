package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptySnapshot is returned by sinks asked to replace a table with nothing.
var ErrEmptySnapshot = errors.New("snapshot table is empty")

// MissingSourceError means no reading source could be opened. The run aborts
// without writing output.
type MissingSourceError struct {
	Sources []string
}

func (e *MissingSourceError) Error() string {
	return fmt.Sprintf("no reading sources available (tried %s)", strings.Join(e.Sources, ", "))
}

// PartialSourceWarning lists reading sources that were absent while others
// loaded. It is reported, never returned as a run failure.
type PartialSourceWarning struct {
	Missing []string
}

func (w *PartialSourceWarning) Error() string {
	return fmt.Sprintf("reading sources unavailable: %s", strings.Join(w.Missing, ", "))
}

// MissingBaselineError means the baseline table could not be loaded, so no
// snapshot can be produced.
type MissingBaselineError struct {
	Path string
}

func (e *MissingBaselineError) Error() string {
	return fmt.Sprintf("baseline source unavailable: %s", e.Path)
}

// RejectReason classifies a dropped input row.
type RejectReason string

const (
	RejectMissingSiteID  RejectReason = "missing_site_id"
	RejectBadTimestamp   RejectReason = "bad_timestamp"
	RejectMissingFlow    RejectReason = "missing_flow"
	RejectBadDayOfYear   RejectReason = "bad_day_of_year"
	RejectMalformedInput RejectReason = "malformed_row"
)

// RecordRejected is returned by row parsers for rows that must be dropped.
type RecordRejected struct {
	Reason RejectReason
	Value  string
}

func (e *RecordRejected) Error() string {
	if e.Value == "" {
		return "record rejected: " + string(e.Reason)
	}
	return fmt.Sprintf("record rejected: %s (%q)", e.Reason, e.Value)
}

// RejectCounts tallies dropped rows by reason.
type RejectCounts map[RejectReason]int

// Add records one rejection. A nil receiver is not allowed.
func (c RejectCounts) Add(reason RejectReason) {
	c[reason]++
}

// Merge folds other into c.
func (c RejectCounts) Merge(other RejectCounts) {
	for k, v := range other {
		c[k] += v
	}
}

// Total returns the number of rejected rows across all reasons.
func (c RejectCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
