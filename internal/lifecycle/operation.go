package lifecycle

import (
	"sync"
	"time"

	"github.com/mbp-platform/envmodel/internal/models"
)

// Operation is one orchestrated run with its own processing state.
type Operation struct {
	mu sync.Mutex
	st *models.ProcessingState
}

// ID returns the operation id.
func (op *Operation) ID() string {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.st.OperationID
}

// State returns a snapshot of the processing state.
func (op *Operation) State() models.ProcessingState {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.st.Clone()
}

func (op *Operation) fail(elementID string, cat models.ErrorCategory, reason string) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.st.Failures = append(op.st.Failures, models.ItemFailure{ElementID: elementID, Category: cat, Reason: reason})
}

func (op *Operation) update(fn func(st *models.ProcessingState)) models.ProcessingState {
	op.mu.Lock()
	defer op.mu.Unlock()
	fn(op.st)
	return op.st.Clone()
}

func (op *Operation) complete(success bool, message string) models.ProcessingState {
	return op.update(func(st *models.ProcessingState) {
		now := time.Now()
		st.Status = models.ProcessingFinished
		st.Finished = true
		st.Success = success
		st.Message = message
		st.FinishedAt = &now
	})
}
