package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/sealpost/sealpost-cli/agent"
	"github.com/sealpost/sealpost-cli/pkg/logging"
	"github.com/sealpost/sealpost-cli/pkg/metrics"
)

// SubmitRequest describes one logical submission.
type SubmitRequest struct {
	// Parent references an existing record (update flow). Nil means the
	// parent is created as part of this submission (insert flow), which
	// makes it eligible for rollback.
	Parent *ParentRef

	// Kind and Fields describe the parent record to create when Parent is nil.
	Kind   ParentKind
	Fields map[string]string

	// Candidates are the files selected by the operator.
	Candidates []*AttachmentCandidate

	// LevelID is the chosen security level.
	LevelID string

	// Recipients receive decryption capability for encrypted attachments.
	Recipients RecipientSet

	// Comment is the accompanying text, if any.
	Comment string

	// OnlyFileObject shares only file objects without persisting the comment
	// (attaching to an existing comment or result).
	OnlyFileObject bool
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Backend Backend
	Agent   agent.Client

	// Catalog is the session's security level catalog.
	Catalog Catalog

	// EncryptionEnabled is the tenant's encryption feature flag.
	EncryptionEnabled bool

	// ExpectedSerial is the token serial registered for the operator.
	ExpectedSerial string

	// ChunkSize is the fixed agent chunk size in bytes.
	ChunkSize int64

	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// Orchestrator sequences the submission state machine: Classifying →
// VerifyingIdentity → EnsuringParent → Encrypting → Sharing →
// UploadingPlain → Completed. It is the only component that decides whether
// to roll back, based solely on whether it created the parent record in the
// current call.
type Orchestrator struct {
	backend  Backend
	verifier *TokenVerifier
	engine   *Engine
	sharer   *ShareCoordinator
	rollback *RollbackController

	catalog           Catalog
	encryptionEnabled bool
	expectedSerial    string

	logger  logging.Logger
	metrics *metrics.Metrics
	tracer  *Tracer

	// mu guards cancelSubmit, the cancel function of the in-flight Submit
	// call's context. Every stage runs on that context, so Cancel aborts the
	// submission at whichever suspension point it is blocked on.
	mu           sync.Mutex
	cancelSubmit context.CancelFunc
}

// NewOrchestrator builds the pipeline from its collaborators.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	log := cfg.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &Orchestrator{
		backend:           cfg.Backend,
		verifier:          NewTokenVerifier(cfg.Agent, log),
		engine:            NewEngine(cfg.Agent, cfg.ChunkSize, log),
		sharer:            NewShareCoordinator(cfg.Backend, log),
		rollback:          NewRollbackController(cfg.Backend, log),
		catalog:           cfg.Catalog,
		encryptionEnabled: cfg.EncryptionEnabled,
		expectedSerial:    cfg.ExpectedSerial,
		logger:            log.With(logging.F("component", "upload_orchestrator")),
		metrics:           cfg.Metrics,
		tracer:            NewTracer(),
	}
}

// Submit runs one submission end to end and returns the parent reference on
// success. Progress for the encryption phase is pushed to onProgress, scoped
// to this call. Exactly one typed error is returned for any terminal failure;
// cancellation is distinguishable via IsCancelled.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest, onProgress ProgressFunc) (ParentRef, error) {
	kind := req.Kind
	if req.Parent != nil {
		kind = req.Parent.Kind
	}

	ctx, span := o.tracer.StartSubmissionSpan(ctx, kind, req.Parent == nil, len(req.Candidates))
	var submitErr error
	defer func() { EndSpan(span, submitErr) }()

	// Every stage runs on sctx so Cancel reaches whichever suspension point
	// the submission is blocked on: the identity round trip, a chunk
	// submission, the sharing call, or a plain upload.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancelSubmit = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancelSubmit = nil
		o.mu.Unlock()
	}()

	var (
		parent ParentRef
		fresh  bool
	)

	fail := func(stage Stage, cause error) (ParentRef, error) {
		if parent.ID != "" {
			o.rollback.RollbackIfOwned(ctx, parent, fresh)
		}
		o.metrics.RecordStageFailure(string(stage))
		if IsCancelled(cause) {
			o.metrics.RecordSubmission(metrics.OutcomeCancelled)
		} else {
			o.metrics.RecordSubmission(metrics.OutcomeFailed)
		}
		submitErr = &SubmissionError{Stage: stage, Cause: cause}
		return ParentRef{}, submitErr
	}

	// cancelled maps an error observed after operator cancellation onto the
	// distinct cancelled outcome instead of reporting a stage failure.
	cancelled := func(err error) error {
		if sctx.Err() != nil && !IsCancelled(err) {
			return fmt.Errorf("%w: %w", ErrSubmissionCancelled, err)
		}
		return err
	}

	// checkCancel catches a cancellation that landed between stages, before
	// the next suspension point is entered.
	checkCancel := func() error {
		if err := sctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrSubmissionCancelled, err)
		}
		return nil
	}

	// Classifying.
	cls := Classify(req.Candidates, req.LevelID, o.catalog, o.encryptionEnabled)
	o.logger.Debug("candidates classified",
		logging.F("must_encrypt", len(cls.MustEncrypt)),
		logging.F("plain", len(cls.Plain)))

	// VerifyingIdentity: once per submission, only when something must be
	// encrypted. Runs before the parent exists, so no rollback applies here.
	if len(cls.MustEncrypt) > 0 {
		vctx, vspan := o.tracer.StartStageSpan(sctx, StageVerifyingIdentity)
		err := o.verifier.Verify(vctx, o.expectedSerial)
		EndSpan(vspan, err)
		if err != nil {
			return fail(StageVerifyingIdentity, cancelled(err))
		}
	}

	// EnsuringParent.
	if req.Parent != nil {
		parent = *req.Parent
	} else {
		if err := checkCancel(); err != nil {
			return fail(StageEnsuringParent, err)
		}
		pctx, pspan := o.tracer.StartStageSpan(sctx, StageEnsuringParent)
		id, err := o.backend.CreateParent(pctx, req.Kind, req.Fields)
		EndSpan(pspan, err)
		if err != nil {
			return fail(StageEnsuringParent, cancelled(fmt.Errorf("%w: %w", ErrParentCreationFailed, err)))
		}
		parent = ParentRef{Kind: req.Kind, ID: id}
		fresh = true
		o.logger.Info("parent record created",
			logging.F("kind", string(req.Kind)),
			logging.F("parent_id", id))
	}

	// Encrypting.
	var encrypted []Attachment
	if len(cls.MustEncrypt) > 0 {
		ectx, espan := o.tracer.StartStageSpan(sctx, StageEncrypting)
		res, err := o.engine.EncryptBatch(ectx, cls.MustEncrypt, o.countingProgress(onProgress))
		EndSpan(espan, err)
		if err != nil {
			return fail(StageEncrypting, err)
		}
		encrypted = res.Attachments
		for i := range encrypted {
			encrypted[i].ParentID = parent.ID
		}
	}

	// Sharing.
	if len(encrypted) > 0 {
		if err := checkCancel(); err != nil {
			return fail(StageSharing, err)
		}
		shctx, sspan := o.tracer.StartStageSpan(sctx, StageSharing)
		err := o.sharer.Share(shctx, parent, encrypted, req.Comment, req.Recipients, req.OnlyFileObject)
		EndSpan(sspan, err)
		if err != nil {
			return fail(StageSharing, cancelled(err))
		}
	}

	// UploadingPlain: one multipart request per occupied slot, because slots
	// are distinct attachment collections on the parent.
	if len(cls.Plain) > 0 {
		if err := checkCancel(); err != nil {
			return fail(StageUploadingPlain, err)
		}
		uctx, uspan := o.tracer.StartStageSpan(sctx, StageUploadingPlain)
		err := o.uploadPlain(uctx, parent, cls.Plain)
		EndSpan(uspan, err)
		if err != nil {
			return fail(StageUploadingPlain, cancelled(fmt.Errorf("%w: %w", ErrPlainUploadFailed, err)))
		}
	}

	// A comment with no encrypted attachments is persisted via the plain path.
	if len(encrypted) == 0 && req.Comment != "" && !req.OnlyFileObject {
		if err := checkCancel(); err != nil {
			return fail(StageUploadingPlain, err)
		}
		if err := o.backend.SaveNonEncrypted(sctx, parent, req.Comment); err != nil {
			return fail(StageUploadingPlain, cancelled(fmt.Errorf("%w: %w", ErrPlainUploadFailed, err)))
		}
	}

	o.metrics.RecordSubmission(metrics.OutcomeCompleted)
	o.logger.Info("submission completed",
		logging.F("kind", string(parent.Kind)),
		logging.F("parent_id", parent.ID),
		logging.F("encrypted", len(encrypted)),
		logging.F("plain", len(cls.Plain)))
	return parent, nil
}

// Cancel aborts the in-flight submission, if any, at its current suspension
// point: the identity round trip, a chunk submission, the sharing call, or a
// plain upload. The pending Submit call returns a cancellation error
// (IsCancelled reports true) and rolls back a freshly created parent.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancelSubmit
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.engine.ForceDisconnect()
}

// uploadPlain routes plain files to their slots in a fixed order. The switch
// is exhaustive over the slot union; unknown slots are a programming error.
func (o *Orchestrator) uploadPlain(ctx context.Context, parent ParentRef, plain []*AttachmentCandidate) error {
	bySlot := make(map[Slot][]*AttachmentCandidate, len(AllSlots))
	for _, f := range plain {
		switch f.Slot {
		case SlotDraft, SlotRelatedDocument, SlotComment, SlotResult:
			bySlot[f.Slot] = append(bySlot[f.Slot], f)
		default:
			return fmt.Errorf("unknown attachment slot %q for %q", f.Slot, f.Name)
		}
	}

	for _, slot := range AllSlots {
		files := bySlot[slot]
		if len(files) == 0 {
			continue
		}
		if _, err := o.backend.UploadPlainFiles(ctx, parent, slot, files); err != nil {
			return fmt.Errorf("slot %s: %w", slot, err)
		}
	}
	return nil
}

// countingProgress wraps the caller's observer to feed the chunk counter.
func (o *Orchestrator) countingProgress(onProgress ProgressFunc) ProgressFunc {
	last := 0
	return func(p BatchProgress) {
		o.metrics.AddChunks(p.ReceivedChunks - last)
		last = p.ReceivedChunks
		if onProgress != nil {
			onProgress(p)
		}
	}
}
