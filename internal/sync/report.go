package syncx

import (
	"errors"
	"time"
)

var (
	ErrUnknownUser = errors.New("unknown user")
	ErrUnknownTest = errors.New("unknown test")
	ErrBusy        = errors.New("sync already running")
)

// CourseInfo identifies the course whose test instances are being synced.
type CourseInfo struct {
	CourseID int64
}

type Outcome string

const (
	OutcomeSynced             Outcome = "synced"
	OutcomeUnknownUser        Outcome = "skipped_unknown_user"
	OutcomeUnknownTest        Outcome = "skipped_unknown_test"
	OutcomeStoreError         Outcome = "skipped_store_error"
	OutcomeDecodeError        Outcome = "skipped_decode_error"
	OutcomeClosingStateFailed Outcome = "closing_state_failed"
)

// Skipped reports whether the record's test instance was left untouched.
func (o Outcome) Skipped() bool {
	switch o {
	case OutcomeUnknownUser, OutcomeUnknownTest, OutcomeStoreError, OutcomeDecodeError:
		return true
	}
	return false
}

// RecordResult is the terminal state of one record's pipeline.
type RecordResult struct {
	InstanceID          string  `json:"tiid"`
	TestID              string  `json:"tid"`
	UserExternalID      string  `json:"uid"`
	Outcome             Outcome `json:"outcome"`
	Reason              string  `json:"reason,omitempty"`
	TestInstanceID      int64   `json:"test_instance_id,omitempty"`
	ClosingStateCreated bool    `json:"closing_state_created,omitempty"`
}

// BatchReport summarises one pass. Per-record failures only show up here and
// in the log; Run never returns them as errors.
type BatchReport struct {
	RunID      string          `json:"run_id"`
	CourseID   int64           `json:"course_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Total      int             `json:"total"` // records left after filtering
	Counts     map[Outcome]int `json:"counts"`
	Results    []RecordResult  `json:"results,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func (r BatchReport) Status() string {
	if r.Error != "" {
		return "failed"
	}
	return "ok"
}

// Synced counts records whose test instance row was written.
func (r BatchReport) Synced() int {
	return r.Counts[OutcomeSynced] + r.Counts[OutcomeClosingStateFailed]
}

func (r BatchReport) Skipped() int {
	n := 0
	for o, c := range r.Counts {
		if o.Skipped() {
			n += c
		}
	}
	return n
}
