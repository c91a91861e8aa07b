package migrate

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/syssam/porter"
)

// Status is the outcome of an entity load.
type Status string

// Entity statuses.
const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Report summarizes a run.
type Report struct {
	RunID    uuid.UUID       `json:"runId"`
	PlanHash string          `json:"planHash"`
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Entities []*EntityReport `json:"entities"`

	byName map[string]*EntityReport
}

// EntityReport holds the counters and errors of one entity.
type EntityReport struct {
	Entity    string       `json:"entity"`
	Stage     int          `json:"stage"`
	Status    Status       `json:"status"`
	Attempted int64        `json:"attempted"`
	Migrated  int64        `json:"migrated"`
	Skipped   int64        `json:"skipped"`
	Fixups    int64        `json:"fixups,omitempty"`
	Errors    []BatchError `json:"errors"`
	// SequenceError is set when the primary-key sequence could not be reset.
	SequenceError string `json:"sequenceError,omitempty"`
	// SourceMaxKey and DestMaxKey hold the largest primary key read from the
	// source and found in the destination, for single-column keys.
	SourceMaxKey any `json:"sourceMaxKey,omitempty"`
	DestMaxKey   any `json:"destMaxKey,omitempty"`
	// DestRows is the number of rows found in the destination table after
	// the entity was loaded.
	DestRows int64         `json:"destRows"`
	Resumed  bool          `json:"resumed,omitempty"`
	Duration time.Duration `json:"duration"`

	errs []error
	// counted reports if DestRows was read.
	counted bool
}

// BatchError describes rows the destination rejected.
type BatchError struct {
	// Range is the primary-key range of the rejected rows, e.g. "[10..19]".
	Range   string `json:"batchRange"`
	Message string `json:"message"`
}

func newReport(id uuid.UUID, hash string) *Report {
	return &Report{RunID: id, PlanHash: hash, byName: make(map[string]*EntityReport)}
}

func (r *Report) add(name string, stage int) *EntityReport {
	er := &EntityReport{Entity: name, Stage: stage, Status: StatusPending, Errors: []BatchError{}}
	r.Entities = append(r.Entities, er)
	r.byName[name] = er
	return er
}

// Entity returns the report of the named entity.
func (r *Report) Entity(name string) (*EntityReport, bool) {
	if r.byName == nil {
		for _, er := range r.Entities {
			if er.Entity == name {
				return er, true
			}
		}
		return nil, false
	}
	er, ok := r.byName[name]
	return er, ok
}

// Totals sums the row counters of all entities.
func (r *Report) Totals() (attempted, migrated, skipped int64) {
	for _, er := range r.Entities {
		attempted += er.Attempted
		migrated += er.Migrated
		skipped += er.Skipped
	}
	return
}

// Err returns the batch and sequence errors of all entities, or nil.
func (r *Report) Err() error {
	var errs []error
	for _, er := range r.Entities {
		errs = append(errs, er.errs...)
	}
	return porter.NewAggregateError(errs...)
}

// Mismatches lists the completed entities whose destination primary-key
// maximum differs from the source one, or whose destination row count
// differs from the number of migrated rows.
func (r *Report) Mismatches() []string {
	var names []string
	for _, er := range r.Entities {
		if er.Status != StatusCompleted {
			continue
		}
		if fmt.Sprint(er.SourceMaxKey) != fmt.Sprint(er.DestMaxKey) || (er.counted && er.DestRows != er.Migrated) {
			names = append(names, er.Entity)
		}
	}
	return names
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes a human-readable summary of the report.
func (r *Report) WriteText(w io.Writer) error {
	p := message.NewPrinter(language.English)
	attempted, migrated, skipped := r.Totals()
	p.Fprintf(w, "Migration run %s: %d rows migrated, %d skipped, %d attempted\n", r.RunID, migrated, skipped, attempted)
	for _, er := range r.Entities {
		p.Fprintf(w, "  [%d] %-30s %-9s %d/%d", er.Stage+1, er.Entity, er.Status, er.Migrated, er.Attempted)
		if er.Fixups > 0 {
			p.Fprintf(w, " (%d fixups)", er.Fixups)
		}
		if er.Resumed {
			p.Fprintf(w, " (resumed)")
		}
		p.Fprintf(w, "\n")
		for _, e := range er.Errors {
			p.Fprintf(w, "      rows %s: %s\n", e.Range, e.Message)
		}
		if er.SequenceError != "" {
			p.Fprintf(w, "      sequence: %s\n", er.SequenceError)
		}
	}
	if m := r.Mismatches(); len(m) > 0 {
		p.Fprintf(w, "Destination does not match the source: %v\n", m)
	}
	_, err := p.Fprintf(w, "Duration: %v\n", r.Finished.Sub(r.Started).Round(time.Millisecond))
	return err
}

func (er *EntityReport) batchError(err *porter.BatchApplyError) {
	er.Errors = append(er.Errors, BatchError{Range: err.Range, Message: err.Cause.Error()})
	er.errs = append(er.errs, err)
}

func (er *EntityReport) fail(err error) {
	er.Status = StatusFailed
	er.Errors = append(er.Errors, BatchError{Message: err.Error()})
	er.errs = append(er.errs, fmt.Errorf("migrate %s: %w", er.Entity, err))
}

// finish sets the final status from the counters.
func (er *EntityReport) finish() {
	switch {
	case er.Status == StatusFailed || er.Status == StatusSkipped:
	case len(er.Errors) == 0:
		er.Status = StatusCompleted
	case er.Migrated == 0 && er.Attempted > 0:
		er.Status = StatusFailed
	default:
		er.Status = StatusPartial
	}
}
