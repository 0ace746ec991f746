package pipeline

import (
	"context"

	"github.com/sealpost/sealpost-cli/pkg/logging"
)

// RollbackController reverses parent record creation after an irrecoverable
// downstream failure, so no orphaned, partially-submitted record is left
// behind.
type RollbackController struct {
	backend Backend
	logger  logging.Logger
}

// NewRollbackController creates a controller over the given backend.
func NewRollbackController(backend Backend, logger logging.Logger) *RollbackController {
	return &RollbackController{
		backend: backend,
		logger:  logger.With(logging.F("component", "rollback_controller")),
	}
}

// RollbackIfOwned deletes the parent record iff it was created within the
// current submission. The delete is best-effort: its own failure is logged,
// never re-raised, so the original error reaches the operator unmasked.
// For pre-existing records (edit flow) this is a no-op.
func (r *RollbackController) RollbackIfOwned(ctx context.Context, parent ParentRef, wasFreshlyCreated bool) {
	if !wasFreshlyCreated {
		return
	}

	// The submission may have ended by cancellation; the delete must still
	// go out.
	ctx = context.WithoutCancel(ctx)

	if err := r.backend.DeleteParent(ctx, parent.Kind, parent.ID); err != nil {
		r.logger.Error("rollback of freshly created parent record failed",
			logging.F("kind", string(parent.Kind)),
			logging.F("parent_id", parent.ID),
			logging.Err(err))
		return
	}

	r.logger.Info("rolled back freshly created parent record",
		logging.F("kind", string(parent.Kind)),
		logging.F("parent_id", parent.ID))
}
