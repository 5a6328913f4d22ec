package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/ensemble"
	"github.com/example/face-verify/internal/logging"
)

// Machine drives the verification flow for a session:
// welcome -> selfie -> document -> processing -> result.
//
// Quality-gate acceptance is a precondition enforced by the caller; the
// machine enforces ordering, one-shot completion, and the single in-flight
// decision guard.
type Machine struct {
	store  Store
	logger *zap.Logger

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
}

// NewMachine builds a state machine over the given store.
func NewMachine(store Store, logger *zap.Logger) *Machine {
	return &Machine{
		store:    store,
		logger:   logger.Named("session_machine"),
		inFlight: make(map[string]context.CancelFunc),
	}
}

// StartSession creates a fresh in-progress session at the welcome step and
// persists it to the session store (not yet the audit store).
func (m *Machine) StartSession(ctx context.Context) (*VerificationSession, error) {
	s := &VerificationSession{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    StatusInProgress,
		Step:      StepWelcome,
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, logging.NewOperationError("session.start", s.ID, err)
	}
	m.logger.Info("session started", zap.String("session_id", s.ID))
	return s, nil
}

// GetSession loads the current state for resume.
func (m *Machine) GetSession(ctx context.Context, id string) (*VerificationSession, error) {
	return m.store.Get(ctx, id)
}

// SaveSelfie stores an accepted selfie capture and advances toward the
// document step. The caller must have run the quality gate first.
func (m *Machine) SaveSelfie(ctx context.Context, id string, img []byte) (*VerificationSession, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Completed() {
		return nil, ErrAlreadyCompleted
	}
	now := time.Now().UTC()
	s.SelfieImage = img
	s.SelfieTimestamp = &now
	s.Step = StepDocument
	if err := m.store.Put(ctx, s); err != nil {
		return nil, logging.NewOperationError("session.save_selfie", id, err)
	}
	return s, nil
}

// SaveDocument stores an accepted document capture. It cannot succeed before
// the selfie step: the document timestamp must never exist without a selfie
// timestamp.
func (m *Machine) SaveDocument(ctx context.Context, id string, img []byte, docType DocumentType) (*VerificationSession, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Completed() {
		return nil, ErrAlreadyCompleted
	}
	if !s.HasSelfie() {
		return nil, ErrInvalidTransition
	}
	if !docType.Valid() {
		return nil, ErrInvalidTransition
	}
	now := time.Now().UTC()
	s.DocumentImage = img
	s.DocumentType = docType
	s.DocumentTimestamp = &now
	s.Step = StepProcessing
	if err := m.store.Put(ctx, s); err != nil {
		return nil, logging.NewOperationError("session.save_document", id, err)
	}
	return s, nil
}

// BeginProcessing marks the session as having an in-flight decision and
// returns a context that is cancelled if the session is reset. A second
// concurrent decision for the same session is rejected.
func (m *Machine) BeginProcessing(ctx context.Context, id string) (context.Context, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Completed() {
		return nil, ErrAlreadyCompleted
	}
	if !s.HasSelfie() || !s.HasDocument() {
		return nil, ErrInvalidTransition
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[id]; busy {
		return nil, ErrAlreadyProcessing
	}
	procCtx, cancel := context.WithCancel(ctx)
	m.inFlight[id] = cancel
	return procCtx, nil
}

// FinishProcessing releases the in-flight guard without completing the
// session, e.g. after a scoring failure.
func (m *Machine) FinishProcessing(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.inFlight[id]; ok {
		cancel()
		delete(m.inFlight, id)
	}
}

// CompleteVerification finalizes the session with the computed result. This
// mutation is one-shot: a session already completed is immutable and further
// calls fail with ErrAlreadyCompleted, leaving the first result unchanged.
func (m *Machine) CompleteVerification(ctx context.Context, id string, result *ensemble.VerificationResult) (*VerificationSession, error) {
	defer m.FinishProcessing(id)

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Completed() {
		return nil, ErrAlreadyCompleted
	}
	if !s.HasSelfie() || !s.HasDocument() {
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	s.CompletedAt = &now
	score := result.Score
	s.SimilarityScore = &score
	s.Result = result
	s.Step = StepResult
	if result.Passed {
		s.Status = StatusApproved
	} else {
		s.Status = StatusRejected
	}

	if err := m.store.Put(ctx, s); err != nil {
		return nil, logging.NewOperationError("session.complete", id, err)
	}
	if err := m.store.AppendHistory(ctx, s); err != nil {
		// History is a convenience mirror; the decision stands regardless.
		m.logger.Warn("failed to mirror session into history",
			zap.String("session_id", id), zap.Error(err))
	}
	m.logger.Info("session completed",
		zap.String("session_id", id),
		zap.String("status", string(s.Status)),
		zap.Float64("score", result.Score))
	return s, nil
}

// ResetSession cancels any in-flight decision for the session and clears it
// from the session store. Completed results already in the audit store are
// untouched.
func (m *Machine) ResetSession(ctx context.Context, id string) error {
	m.FinishProcessing(id)
	if err := m.store.Delete(ctx, id); err != nil {
		return logging.NewOperationError("session.reset", id, err)
	}
	m.logger.Info("session reset", zap.String("session_id", id))
	return nil
}

// GoToStep navigates the UI position without altering status. It refuses to
// skip required preconditions: the selfie-before-document ordering holds
// regardless of how the step was reached.
func (m *Machine) GoToStep(ctx context.Context, id string, step Step) (*VerificationSession, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch step {
	case StepWelcome, StepSelfie:
		// Always reachable while the session exists.
	case StepDocument:
		if !s.HasSelfie() {
			return nil, ErrInvalidTransition
		}
	case StepProcessing:
		if !s.HasSelfie() || !s.HasDocument() {
			return nil, ErrInvalidTransition
		}
	case StepResult:
		if !s.Completed() {
			return nil, ErrInvalidTransition
		}
	default:
		return nil, ErrInvalidTransition
	}
	s.Step = step
	if err := m.store.Put(ctx, s); err != nil {
		return nil, logging.NewOperationError("session.go_to_step", id, err)
	}
	return s, nil
}
