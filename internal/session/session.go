// Package session owns the lifecycle of one verification attempt: the
// session model, the pluggable session store, and the state machine that
// drives capture through decision.
package session

import (
	"errors"
	"time"

	"github.com/example/face-verify/internal/ensemble"
)

var (
	// ErrInvalidTransition marks an out-of-order step call. Programming/UI
	// error, surfaced to the caller, never to the end user.
	ErrInvalidTransition = errors.New("session: invalid transition")

	// ErrAlreadyCompleted guards the one-shot completion: a finalized
	// session is immutable.
	ErrAlreadyCompleted = errors.New("session: already completed")

	// ErrAlreadyProcessing rejects a second in-flight decision for the same
	// session.
	ErrAlreadyProcessing = errors.New("session: decision already processing")

	// ErrNotFound is returned when no session exists for the id.
	ErrNotFound = errors.New("session: not found")
)

// Status is the session outcome. Terminal once not in_progress.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
)

// Step is the UI-facing position in the flow.
type Step string

const (
	StepWelcome    Step = "welcome"
	StepSelfie     Step = "selfie"
	StepDocument   Step = "document"
	StepProcessing Step = "processing"
	StepResult     Step = "result"
)

// DocumentType enumerates the accepted identity documents.
type DocumentType string

const (
	DocumentCNH      DocumentType = "CNH"
	DocumentRG       DocumentType = "RG"
	DocumentRNE      DocumentType = "RNE"
	DocumentPassport DocumentType = "PASSPORT"
)

// Valid reports whether the document type is one of the accepted kinds.
func (d DocumentType) Valid() bool {
	switch d {
	case DocumentCNH, DocumentRG, DocumentRNE, DocumentPassport:
		return true
	}
	return false
}

// VerificationSession is one verification attempt. It is mutated in place by
// the owning state machine as each step completes and becomes immutable once
// finalized.
type VerificationSession struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	SelfieImage     []byte     `json:"selfieImage,omitempty"`
	SelfieTimestamp *time.Time `json:"selfieTimestamp,omitempty"`

	DocumentImage     []byte       `json:"documentImage,omitempty"`
	DocumentType      DocumentType `json:"documentType,omitempty"`
	DocumentTimestamp *time.Time   `json:"documentTimestamp,omitempty"`

	Status Status `json:"status"`
	Step   Step   `json:"step"`

	SimilarityScore *float64                     `json:"similarityScore,omitempty"`
	Result          *ensemble.VerificationResult `json:"result,omitempty"`
}

// Completed reports whether the session reached a terminal status.
func (s *VerificationSession) Completed() bool {
	return s.Status != StatusInProgress
}

// HasSelfie reports whether the selfie step finished.
func (s *VerificationSession) HasSelfie() bool {
	return len(s.SelfieImage) > 0 && s.SelfieTimestamp != nil
}

// HasDocument reports whether the document step finished.
func (s *VerificationSession) HasDocument() bool {
	return len(s.DocumentImage) > 0 && s.DocumentTimestamp != nil
}
