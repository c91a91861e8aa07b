package porter

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for the planning and migration phases.
var (
	// ErrGraphConstruction is returned when entity metadata cannot form a graph,
	// e.g. a reference targets an entity that does not exist.
	ErrGraphConstruction = errors.New("porter: invalid entity graph")

	// ErrCyclicDependency is returned when the graph contains a blocking cycle
	// and cycle-breaking was not requested.
	ErrCyclicDependency = errors.New("porter: cyclic dependency")

	// ErrBatchApply is returned when the destination rejects a batch of rows.
	ErrBatchApply = errors.New("porter: batch apply failed")

	// ErrSequenceReset is returned when the primary-key sequence of an entity
	// could not be repaired after loading.
	ErrSequenceReset = errors.New("porter: sequence reset failed")

	// ErrConstraintRestoration is returned when constraints disabled for a run
	// could not be enabled again. The destination is left unsafe.
	ErrConstraintRestoration = errors.New("porter: constraint restoration failed")

	// ErrInvalidConfig is returned for invalid options or configuration values.
	ErrInvalidConfig = errors.New("porter: invalid configuration")

	// ErrPlanMismatch is returned when a plan does not match the entity metadata
	// it is executed against.
	ErrPlanMismatch = errors.New("porter: plan does not match entities")
)

// GraphConstructionError represents a fatal error while building the entity graph.
type GraphConstructionError struct {
	Entity    string // Entity holding the offending definition
	Reference string // Column of the offending reference (if applicable)
	Message   string
}

// Error returns the error string.
func (e *GraphConstructionError) Error() string {
	var b strings.Builder
	b.WriteString("porter: graph construction")
	if e.Entity != "" {
		b.WriteString(" on entity ")
		b.WriteString(e.Entity)
	}
	if e.Reference != "" {
		b.WriteString(" reference ")
		b.WriteString(e.Reference)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is reports whether the target matches ErrGraphConstruction.
func (e *GraphConstructionError) Is(target error) bool {
	return target == ErrGraphConstruction
}

// NewGraphConstructionError returns a new GraphConstructionError.
func NewGraphConstructionError(entity, reference, message string) *GraphConstructionError {
	return &GraphConstructionError{Entity: entity, Reference: reference, Message: message}
}

// IsGraphConstructionError returns true if the error is a GraphConstructionError.
func IsGraphConstructionError(err error) bool {
	if err == nil {
		return false
	}
	var e *GraphConstructionError
	return errors.As(err, &e)
}

// CyclicDependencyError is returned by the planner when blocking cycles exist
// and cycle-breaking was not requested. Components holds the member names of
// every strongly-connected component of size two or more.
type CyclicDependencyError struct {
	Components [][]string
}

// Error returns the error string.
func (e *CyclicDependencyError) Error() string {
	parts := make([]string, len(e.Components))
	for i, c := range e.Components {
		parts[i] = "[" + strings.Join(c, ", ") + "]"
	}
	return fmt.Sprintf("porter: cyclic dependency between entities: %s", strings.Join(parts, " "))
}

// Is reports whether the target matches ErrCyclicDependency.
func (e *CyclicDependencyError) Is(target error) bool {
	return target == ErrCyclicDependency
}

// IsCyclicDependency returns true if the error is a CyclicDependencyError.
func IsCyclicDependency(err error) bool {
	if err == nil {
		return false
	}
	var e *CyclicDependencyError
	return errors.As(err, &e)
}

// BatchApplyError represents a batch that the destination rejected even after retry.
type BatchApplyError struct {
	Entity string
	Range  string // Key range of the rejected rows, e.g. "[10..19]"
	Cause  error
}

// Error returns the error string.
func (e *BatchApplyError) Error() string {
	return fmt.Sprintf("porter: apply %s %s: %v", e.Entity, e.Range, e.Cause)
}

// Unwrap returns the underlying error.
func (e *BatchApplyError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches ErrBatchApply.
func (e *BatchApplyError) Is(target error) bool {
	return target == ErrBatchApply
}

// NewBatchApplyError returns a new BatchApplyError.
func NewBatchApplyError(entity, keyRange string, cause error) *BatchApplyError {
	return &BatchApplyError{Entity: entity, Range: keyRange, Cause: cause}
}

// IsBatchApplyError returns true if the error is a BatchApplyError.
func IsBatchApplyError(err error) bool {
	if err == nil {
		return false
	}
	var e *BatchApplyError
	return errors.As(err, &e)
}

// SequenceResetError represents a failed primary-key sequence repair.
type SequenceResetError struct {
	Entity string
	Cause  error
}

// Error returns the error string.
func (e *SequenceResetError) Error() string {
	return fmt.Sprintf("porter: reset sequence of %s: %v", e.Entity, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SequenceResetError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches ErrSequenceReset.
func (e *SequenceResetError) Is(target error) bool {
	return target == ErrSequenceReset
}

// NewSequenceResetError returns a new SequenceResetError.
func NewSequenceResetError(entity string, cause error) *SequenceResetError {
	return &SequenceResetError{Entity: entity, Cause: cause}
}

// IsSequenceResetError returns true if the error is a SequenceResetError.
func IsSequenceResetError(err error) bool {
	if err == nil {
		return false
	}
	var e *SequenceResetError
	return errors.As(err, &e)
}

// ConstraintRestorationError represents a failure to re-enable destination
// constraints at the end of a run.
type ConstraintRestorationError struct {
	Cause error
}

// Error returns the error string.
func (e *ConstraintRestorationError) Error() string {
	return fmt.Sprintf("porter: restore constraints (destination left without constraint checks): %v", e.Cause)
}

// Unwrap returns the underlying error.
func (e *ConstraintRestorationError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches ErrConstraintRestoration.
func (e *ConstraintRestorationError) Is(target error) bool {
	return target == ErrConstraintRestoration
}

// IsConstraintRestorationError returns true if the error is a ConstraintRestorationError.
func IsConstraintRestorationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConstraintRestorationError
	return errors.As(err, &e)
}

// ConfigError represents an invalid option or configuration value.
type ConfigError struct {
	Option  string
	Value   any
	Message string
}

// Error returns the error string.
func (e *ConfigError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("porter: config error for %q (value: %v): %s", e.Option, e.Value, e.Message)
	}
	return fmt.Sprintf("porter: config error for %q: %s", e.Option, e.Message)
}

// Is reports whether the target matches ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NewConfigError returns a new ConfigError.
func NewConfigError(option string, value any, message string) *ConfigError {
	return &ConfigError{Option: option, Value: value, Message: message}
}

// IsConfigError returns true if the error is a ConfigError.
func IsConfigError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConfigError
	return errors.As(err, &e)
}

// PlanMismatchError represents a plan that cannot be executed against the
// given entity metadata.
type PlanMismatchError struct {
	Entity  string
	Message string
}

// Error returns the error string.
func (e *PlanMismatchError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("porter: plan mismatch on entity %s: %s", e.Entity, e.Message)
	}
	return fmt.Sprintf("porter: plan mismatch: %s", e.Message)
}

// Is reports whether the target matches ErrPlanMismatch.
func (e *PlanMismatchError) Is(target error) bool {
	return target == ErrPlanMismatch
}

// NewPlanMismatchError returns a new PlanMismatchError.
func NewPlanMismatchError(entity, message string) *PlanMismatchError {
	return &PlanMismatchError{Entity: entity, Message: message}
}

// IsPlanMismatchError returns true if the error is a PlanMismatchError.
func IsPlanMismatchError(err error) bool {
	if err == nil {
		return false
	}
	var e *PlanMismatchError
	return errors.As(err, &e)
}

// AggregateError represents multiple errors collected during a run.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "porter: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("porter: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors so errors.Is and errors.As see all of them.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}
