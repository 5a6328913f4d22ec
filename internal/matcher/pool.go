package matcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/face-verify/internal/imaging"
	"github.com/example/face-verify/internal/metrics"
)

// PoolResult carries whatever subset of the ensemble completed in time.
type PoolResult struct {
	// Algorithms maps scorer name to its verdict; dropped scorers are absent.
	Algorithms map[string]AlgorithmResult
	// Metrics is nil when the classical comparator pass failed.
	Metrics *ComparisonMetrics
	// Dropped lists scorers that errored or timed out this run.
	Dropped []string
}

// Pool runs the fixed scorer set concurrently with a bounded per-scorer
// timeout. A slow or failing scorer is dropped from the run rather than
// failing the whole verification.
type Pool struct {
	matchers []FaceMatcher
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewPool builds a pool over the given matchers.
func NewPool(matchers []FaceMatcher, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Pool {
	return &Pool{
		matchers: matchers,
		timeout:  timeout,
		logger:   logger.Named("scorer_pool"),
		metrics:  m,
	}
}

// Size returns the number of scorers in the fixed ensemble.
func (p *Pool) Size() int { return len(p.matchers) }

// Run fans the pair out to every scorer plus the classical comparator pass
// and joins on whatever completed. It only returns an error when the parent
// context is cancelled before the join finishes.
func (p *Pool) Run(ctx context.Context, selfie, document *imaging.Plane) (*PoolResult, error) {
	result := &PoolResult{Algorithms: make(map[string]AlgorithmResult, len(p.matchers))}
	var mu sync.Mutex

	g, groupCtx := errgroup.WithContext(ctx)

	for _, m := range p.matchers {
		m := m
		g.Go(func() error {
			scorerCtx, cancel := context.WithTimeout(groupCtx, p.timeout)
			defer cancel()

			res, err := p.runScorer(scorerCtx, m, selfie, document)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Dropped = append(result.Dropped, m.Name())
				if p.metrics != nil {
					p.metrics.ScorerFailures.WithLabelValues(m.Name()).Inc()
				}
				p.logger.Warn("scorer dropped from ensemble",
					zap.String("algorithm", m.Name()), zap.Error(err))
				return nil
			}
			result.Algorithms[m.Name()] = res
			return nil
		})
	}

	g.Go(func() error {
		compCtx, cancel := context.WithTimeout(groupCtx, p.timeout)
		defer cancel()

		m, err := p.runComparators(compCtx, selfie, document)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			p.logger.Warn("classical comparators dropped", zap.Error(err))
			return nil
		}
		result.Metrics = m
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		// The caller abandoned the session; discard partial results.
		return nil, err
	}
	return result, nil
}

// runScorer isolates one matcher invocation so a deadline shows up as
// ErrScorerTimeout instead of a bare context error.
func (p *Pool) runScorer(ctx context.Context, m FaceMatcher, selfie, document *imaging.Plane) (AlgorithmResult, error) {
	type outcome struct {
		res AlgorithmResult
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := m.Match(ctx, selfie, document)
		ch <- outcome{res, err}
	}()

	select {
	case out := <-ch:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return AlgorithmResult{}, ErrScorerTimeout
		}
		return out.res, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return AlgorithmResult{}, ErrScorerTimeout
		}
		return AlgorithmResult{}, ctx.Err()
	}
}

func (p *Pool) runComparators(ctx context.Context, selfie, document *imaging.Plane) (*ComparisonMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := Compare(selfie, document)
	return &m, nil
}
