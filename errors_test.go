package porter_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/porter"
)

func TestGraphConstructionError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := porter.NewGraphConstructionError("Post", "author_id", `unknown target entity "User"`)
		assert.Equal(t, `porter: graph construction on entity Post reference author_id: unknown target entity "User"`, err.Error())
	})

	t.Run("Is", func(t *testing.T) {
		err := porter.NewGraphConstructionError("Post", "", "duplicate entity")
		assert.True(t, errors.Is(err, porter.ErrGraphConstruction))
		assert.False(t, errors.Is(err, porter.ErrCyclicDependency))
	})

	t.Run("IsGraphConstructionError", func(t *testing.T) {
		err := porter.NewGraphConstructionError("Post", "", "duplicate entity")
		assert.True(t, porter.IsGraphConstructionError(fmt.Errorf("wrapper: %w", err)))
		assert.False(t, porter.IsGraphConstructionError(errors.New("other error")))
		assert.False(t, porter.IsGraphConstructionError(nil))
	})
}

func TestCyclicDependencyError(t *testing.T) {
	err := &porter.CyclicDependencyError{Components: [][]string{{"A", "B", "C"}, {"X", "Y"}}}
	assert.Equal(t, "porter: cyclic dependency between entities: [A, B, C] [X, Y]", err.Error())
	assert.True(t, errors.Is(err, porter.ErrCyclicDependency))
	assert.True(t, porter.IsCyclicDependency(fmt.Errorf("plan: %w", err)))
	assert.False(t, porter.IsCyclicDependency(nil))
}

func TestBatchApplyError(t *testing.T) {
	cause := errors.New("duplicate key")
	err := porter.NewBatchApplyError("users", "[1..10]", cause)
	assert.Equal(t, "porter: apply users [1..10]: duplicate key", err.Error())
	assert.True(t, errors.Is(err, porter.ErrBatchApply))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, porter.IsBatchApplyError(err))
	assert.False(t, porter.IsBatchApplyError(cause))
}

func TestSequenceResetError(t *testing.T) {
	cause := errors.New("permission denied")
	err := porter.NewSequenceResetError("users", cause)
	assert.Equal(t, "porter: reset sequence of users: permission denied", err.Error())
	assert.True(t, errors.Is(err, porter.ErrSequenceReset))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, porter.IsSequenceResetError(err))
}

func TestConstraintRestorationError(t *testing.T) {
	cause := errors.New("connection reset")
	err := &porter.ConstraintRestorationError{Cause: cause}
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, errors.Is(err, porter.ErrConstraintRestoration))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, porter.IsConstraintRestorationError(errors.Join(errors.New("run"), err)))
}

func TestConfigError(t *testing.T) {
	err := porter.NewConfigError("BatchSize", 0, "must be positive")
	assert.Equal(t, `porter: config error for "BatchSize" (value: 0): must be positive`, err.Error())
	assert.True(t, errors.Is(err, porter.ErrInvalidConfig))
	assert.True(t, porter.IsConfigError(err))

	err = porter.NewConfigError("Logger", nil, "logger cannot be nil")
	assert.Equal(t, `porter: config error for "Logger": logger cannot be nil`, err.Error())
}

func TestPlanMismatchError(t *testing.T) {
	err := porter.NewPlanMismatchError("Ghost", "entity is not defined")
	assert.Equal(t, "porter: plan mismatch on entity Ghost: entity is not defined", err.Error())
	assert.True(t, errors.Is(err, porter.ErrPlanMismatch))

	err = porter.NewPlanMismatchError("", "empty plan")
	assert.Equal(t, "porter: plan mismatch: empty plan", err.Error())
	assert.True(t, porter.IsPlanMismatchError(fmt.Errorf("load: %w", err)))
	assert.False(t, porter.IsPlanMismatchError(nil))
}

func TestAggregateError(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		assert.Nil(t, porter.NewAggregateError())
		assert.Nil(t, porter.NewAggregateError(nil, nil))
	})

	t.Run("Single", func(t *testing.T) {
		e := errors.New("one")
		assert.Equal(t, e, porter.NewAggregateError(nil, e))
	})

	t.Run("Multiple", func(t *testing.T) {
		seq := porter.NewSequenceResetError("users", errors.New("boom"))
		err := porter.NewAggregateError(errors.New("one"), seq)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "porter: multiple errors:")
		assert.Contains(t, err.Error(), "[2] porter: reset sequence of users: boom")
		assert.True(t, errors.Is(err, porter.ErrSequenceReset))
		assert.True(t, porter.IsSequenceResetError(err))
	})
}
