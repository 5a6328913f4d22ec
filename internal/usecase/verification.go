// Package usecase orchestrates the verification flow: capture through
// quality gating, scorer fan-out, consensus, session finalization, and the
// fire-and-forget audit write.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/ensemble"
	"github.com/example/face-verify/internal/imaging"
	"github.com/example/face-verify/internal/logging"
	"github.com/example/face-verify/internal/matcher"
	"github.com/example/face-verify/internal/metrics"
	"github.com/example/face-verify/internal/quality"
	"github.com/example/face-verify/internal/repository"
	"github.com/example/face-verify/internal/session"
)

// matchPlaneSize is the plane resolution the scorers receive.
const matchPlaneSize = 64

// resultCacheTTL bounds the cached final results.
const resultCacheTTL = 5 * time.Minute

// AuditGateway defines the persistence operations needed by the use case.
type AuditGateway interface {
	Save(ctx context.Context, rec *repository.VerificationRecord) error
	FindBySessionID(ctx context.Context, sessionID string) (*repository.VerificationRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*repository.VerificationRecord, error)
	AggregateStats(ctx context.Context) (*repository.Stats, error)
}

// DecisionPool abstracts the concurrent scorer fan-out.
type DecisionPool interface {
	Run(ctx context.Context, selfie, document *imaging.Plane) (*matcher.PoolResult, error)
}

// Decider abstracts the consensus engine.
type Decider interface {
	Decide(algorithms map[string]matcher.AlgorithmResult, classical *matcher.ComparisonMetrics, selfieQuality, documentQuality float64) (*ensemble.VerificationResult, error)
}

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	machine *session.Machine
	gate    *quality.Gate
	pool    DecisionPool
	engine  Decider
	audit   AuditGateway
	cache   Cache
	logger  *zap.Logger
	metrics *metrics.Metrics

	auditRetryAttempts int
	initialBackoff     time.Duration
	maxBackoff         time.Duration
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(machine *session.Machine, gate *quality.Gate, pool DecisionPool, engine Decider, audit AuditGateway, cache Cache, m *metrics.Metrics, logger *zap.Logger) *VerificationUseCase {
	return &VerificationUseCase{
		machine:            machine,
		gate:               gate,
		pool:               pool,
		engine:             engine,
		audit:              audit,
		cache:              cache,
		logger:             logger.Named("verification_usecase"),
		metrics:            m,
		auditRetryAttempts: 5,
		initialBackoff:     100 * time.Millisecond,
		maxBackoff:         5 * time.Second,
	}
}

// SetAuditRetryAttempts overrides the audit write retry budget from
// configuration. Non-positive values keep the default.
func (uc *VerificationUseCase) SetAuditRetryAttempts(attempts int) {
	if attempts > 0 {
		uc.auditRetryAttempts = attempts
	}
}

// StartSession opens a fresh verification attempt.
func (uc *VerificationUseCase) StartSession(ctx context.Context) (*session.VerificationSession, error) {
	return uc.machine.StartSession(ctx)
}

// GetSession exposes current session state for resume.
func (uc *VerificationUseCase) GetSession(ctx context.Context, id string) (*session.VerificationSession, error) {
	return uc.machine.GetSession(ctx, id)
}

// ResetSession abandons the flow, cancelling any in-flight decision and
// dropping any cached result for the session. The durable audit record, if
// one exists, is untouched.
func (uc *VerificationUseCase) ResetSession(ctx context.Context, id string) error {
	if err := uc.machine.ResetSession(ctx, id); err != nil {
		return err
	}
	if err := uc.cache.Del(ctx, resultCacheKey(id)); err != nil {
		logging.WithOperation(uc.logger, "cache.del.result", id).Warn("failed to invalidate cached result", zap.Error(err))
	}
	return nil
}

// GoToStep navigates the flow without skipping preconditions.
func (uc *VerificationUseCase) GoToStep(ctx context.Context, id string, step session.Step) (*session.VerificationSession, error) {
	return uc.machine.GoToStep(ctx, id, step)
}

// SubmitSelfie runs the quality gate on the capture and, if accepted, stores
// it on the session. A rejected capture returns the assessment alongside
// quality.ErrCaptureRejected and never reaches the scorers.
func (uc *VerificationUseCase) SubmitSelfie(ctx context.Context, id string, imageBytes []byte) (*session.VerificationSession, *quality.Assessment, error) {
	img, err := imaging.Decode(imageBytes)
	if err != nil {
		return nil, nil, logging.NewOperationError("usecase.submit_selfie", id, err)
	}

	assessment := uc.gate.Assess(img, quality.ModalitySelfie)
	if !uc.gate.Accepted(assessment) {
		if uc.metrics != nil {
			uc.metrics.QualityRejections.WithLabelValues(string(quality.ModalitySelfie)).Inc()
		}
		return nil, &assessment, quality.ErrCaptureRejected
	}

	s, err := uc.machine.SaveSelfie(ctx, id, imageBytes)
	if err != nil {
		return nil, nil, err
	}
	return s, &assessment, nil
}

// SubmitDocument mirrors SubmitSelfie for the document capture.
func (uc *VerificationUseCase) SubmitDocument(ctx context.Context, id string, imageBytes []byte, docType session.DocumentType) (*session.VerificationSession, *quality.Assessment, error) {
	img, err := imaging.Decode(imageBytes)
	if err != nil {
		return nil, nil, logging.NewOperationError("usecase.submit_document", id, err)
	}

	assessment := uc.gate.Assess(img, quality.ModalityDocument)
	if !uc.gate.Accepted(assessment) {
		if uc.metrics != nil {
			uc.metrics.QualityRejections.WithLabelValues(string(quality.ModalityDocument)).Inc()
		}
		return nil, &assessment, quality.ErrCaptureRejected
	}

	s, err := uc.machine.SaveDocument(ctx, id, imageBytes, docType)
	if err != nil {
		return nil, nil, err
	}
	return s, &assessment, nil
}

// Verify runs the scorer pool and the consensus engine for a session with
// both captures present, finalizes the session, and hands the record to the
// audit store asynchronously. A scoring shortfall leaves the session
// in progress so the user can retry.
func (uc *VerificationUseCase) Verify(ctx context.Context, id, deviceInfo string) (*ensemble.VerificationResult, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.verify", id)

	s, err := uc.machine.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	procCtx, err := uc.machine.BeginProcessing(ctx, id)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := uc.decide(procCtx, s)
	if err != nil {
		uc.machine.FinishProcessing(id)
		opLogger.Error("decision failed", zap.Error(err))
		return nil, err
	}

	completed, err := uc.machine.CompleteVerification(ctx, id, result)
	if err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.DecisionDuration.Observe(time.Since(started).Seconds())
		uc.metrics.VerificationsTotal.WithLabelValues(string(completed.Status)).Inc()
	}

	uc.cacheResult(ctx, id, result)

	// The user-visible decision is final; audit persistence retries in the
	// background and never surfaces as a verification failure.
	go uc.persistAudit(completed, deviceInfo)

	return result, nil
}

func (uc *VerificationUseCase) decide(ctx context.Context, s *session.VerificationSession) (*ensemble.VerificationResult, error) {
	selfieImg, err := imaging.Decode(s.SelfieImage)
	if err != nil {
		return nil, logging.NewOperationError("usecase.decode_selfie", s.ID, err)
	}
	docImg, err := imaging.Decode(s.DocumentImage)
	if err != nil {
		return nil, logging.NewOperationError("usecase.decode_document", s.ID, err)
	}

	selfieQ := uc.gate.Assess(selfieImg, quality.ModalitySelfie)
	docQ := uc.gate.Assess(docImg, quality.ModalityDocument)

	selfiePlane := imaging.FromImage(selfieImg, matchPlaneSize)
	docPlane := imaging.FromImage(docImg, matchPlaneSize)

	poolResult, err := uc.pool.Run(ctx, selfiePlane, docPlane)
	if err != nil {
		return nil, logging.NewOperationError("usecase.scorer_pool", s.ID, err)
	}

	return uc.engine.Decide(poolResult.Algorithms, poolResult.Metrics, selfieQ.Quality, docQ.Quality)
}

// GetResult retrieves a cached verification outcome or loads from the audit
// store.
func (uc *VerificationUseCase) GetResult(ctx context.Context, sessionID string) (*repository.VerificationRecord, error) {
	cacheKey := resultCacheKey(sessionID)
	if cached, err := uc.cache.Get(ctx, cacheKey); err == nil {
		var rec repository.VerificationRecord
		if err := json.Unmarshal([]byte(cached), &rec); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", sessionID).Warn("failed to decode cached result", zap.Error(err))
		} else {
			return &rec, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", sessionID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.audit.FindBySessionID(ctx, sessionID)
}

// ListRecent exposes the audit history, newest first.
func (uc *VerificationUseCase) ListRecent(ctx context.Context, limit int) ([]*repository.VerificationRecord, error) {
	return uc.audit.ListRecent(ctx, limit)
}

// GetStats aggregates the audit history.
func (uc *VerificationUseCase) GetStats(ctx context.Context) (*repository.Stats, error) {
	return uc.audit.AggregateStats(ctx)
}

func (uc *VerificationUseCase) cacheResult(ctx context.Context, id string, result *ensemble.VerificationResult) {
	rec := buildRecord(id, result)
	serialized, err := json.Marshal(rec)
	if err != nil {
		uc.logger.Warn("failed to serialize verification result", zap.Error(err))
		return
	}
	if err := uc.cache.Set(ctx, resultCacheKey(id), string(serialized), resultCacheTTL); err != nil {
		logging.WithOperation(uc.logger, "cache.set.result", id).Warn("failed to cache verification result", zap.Error(err))
	}
}

// persistAudit writes the completed verification with exponential backoff.
// It runs detached from the request: the decision is already final.
func (uc *VerificationUseCase) persistAudit(s *session.VerificationSession, deviceInfo string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rec := buildRecord(s.ID, s.Result)
	rec.DocumentType = string(s.DocumentType)
	rec.DeviceInfo = deviceInfo

	opLogger := logging.WithOperation(uc.logger, "usecase.persist_audit", s.ID)
	backoff := uc.initialBackoff
	for attempt := 0; attempt < uc.auditRetryAttempts; attempt++ {
		if attempt > 0 {
			if uc.metrics != nil {
				uc.metrics.AuditRetries.Inc()
			}
			select {
			case <-ctx.Done():
				opLogger.Error("audit write abandoned", zap.Error(ctx.Err()))
				return
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		if err := uc.audit.Save(ctx, rec); err != nil {
			opLogger.Warn("audit write failed", zap.Error(err), zap.Int("attempt", attempt+1))
			continue
		}
		if attempt > 0 {
			opLogger.Info("audit write succeeded after retry", zap.Int("attempt", attempt+1))
		}
		return
	}
	opLogger.Error("audit write exhausted retries", zap.Int("attempts", uc.auditRetryAttempts))
}

func buildRecord(sessionID string, result *ensemble.VerificationResult) *repository.VerificationRecord {
	rec := &repository.VerificationRecord{
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	}
	if result == nil {
		return rec
	}
	rec.Passed = result.Passed
	rec.Score = result.Score
	rec.RequiredScore = result.RequiredScore
	rec.Confidence = string(result.Confidence)
	rec.SelfieQuality = result.SelfieQuality
	rec.DocumentQuality = result.DocumentQuality
	if detail, err := json.Marshal(result); err == nil {
		rec.Detail = string(detail)
	}
	return rec
}

func resultCacheKey(sessionID string) string {
	return fmt.Sprintf("verification:result:%s", sessionID)
}
