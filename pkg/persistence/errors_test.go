package persistence_test

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/dukex/autoflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestPersistenceErrors(t *testing.T) {
	t.Parallel()

	t.Run("matches the sentinel and the cause", func(t *testing.T) {
		err := persistence.NewError("save", persistence.KindWorkflow, "wf-1", fs.ErrPermission)

		assert.True(t, persistence.IsPersistenceError(err))
		assert.True(t, errors.Is(err, fs.ErrPermission))
	})

	t.Run("survives wrapping", func(t *testing.T) {
		err := fmt.Errorf("create workflow: %w", persistence.NewError("save", persistence.KindWorkflow, "wf-1", errors.New("disk full")))

		var persistenceErr *persistence.Error
		assert.ErrorAs(t, err, &persistenceErr)
		assert.Equal(t, "wf-1", persistenceErr.ID)
		assert.True(t, persistence.IsPersistenceError(err))
	})

	t.Run("message contains context", func(t *testing.T) {
		err := persistence.NewError("delete", persistence.KindExecution, "exec-9", errors.New("timeout"))

		assert.Equal(t, "delete execution exec-9: timeout", err.Error())
		assert.Equal(t, "list execution: timeout", persistence.NewError("list", persistence.KindExecution, "", errors.New("timeout")).Error())
	})

	t.Run("other errors do not match", func(t *testing.T) {
		assert.False(t, persistence.IsPersistenceError(errors.New("boom")))
	})

	t.Run("defaults", func(t *testing.T) {
		options := persistence.DefaultOptions()

		assert.Equal(t, persistence.DefaultWorkflowTTL, options.WorkflowTTL)
		assert.Equal(t, persistence.DefaultExecutionTTL, options.ExecutionTTL)
	})
}
