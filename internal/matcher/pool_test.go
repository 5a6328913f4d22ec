package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-verify/internal/imaging"
)

type stubScorer struct {
	name   string
	delay  time.Duration
	result AlgorithmResult
	err    error
}

func (s *stubScorer) Name() string { return s.name }

func (s *stubScorer) Match(ctx context.Context, selfie, document *imaging.Plane) (AlgorithmResult, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return AlgorithmResult{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func TestPoolRunCollectsAllScorers(t *testing.T) {
	scorers := []FaceMatcher{
		&stubScorer{name: "alpha", result: AlgorithmResult{Score: 0.9, Matched: true}},
		&stubScorer{name: "beta", result: AlgorithmResult{Score: 0.8, Matched: true}},
	}
	pool := NewPool(scorers, time.Second, zap.NewNop(), nil)

	res, err := pool.Run(context.Background(), facePlane(), facePlane())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Algorithms) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res.Algorithms))
	}
	if res.Algorithms["alpha"].Score != 0.9 {
		t.Errorf("unexpected alpha result: %+v", res.Algorithms["alpha"])
	}
	if res.Metrics == nil {
		t.Error("expected classical metrics alongside scorer results")
	}
	if len(res.Dropped) != 0 {
		t.Errorf("expected no dropped scorers, got %v", res.Dropped)
	}
}

func TestPoolDropsSlowScorer(t *testing.T) {
	scorers := []FaceMatcher{
		&stubScorer{name: "fast", result: AlgorithmResult{Score: 0.9, Matched: true}},
		&stubScorer{name: "slow", delay: 500 * time.Millisecond},
	}
	pool := NewPool(scorers, 30*time.Millisecond, zap.NewNop(), nil)

	res, err := pool.Run(context.Background(), facePlane(), facePlane())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Algorithms["fast"]; !ok {
		t.Error("fast scorer missing from results")
	}
	if _, ok := res.Algorithms["slow"]; ok {
		t.Error("slow scorer should have been dropped")
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != "slow" {
		t.Errorf("expected dropped=[slow], got %v", res.Dropped)
	}
}

func TestPoolDropsFailingScorer(t *testing.T) {
	scorers := []FaceMatcher{
		&stubScorer{name: "ok", result: AlgorithmResult{Score: 0.7, Matched: true}},
		&stubScorer{name: "broken", err: errors.New("model load failed")},
	}
	pool := NewPool(scorers, time.Second, zap.NewNop(), nil)

	res, err := pool.Run(context.Background(), facePlane(), facePlane())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Algorithms) != 1 {
		t.Fatalf("expected 1 surviving scorer, got %d", len(res.Algorithms))
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != "broken" {
		t.Errorf("expected dropped=[broken], got %v", res.Dropped)
	}
}

func TestPoolReturnsErrorWhenParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewPool(DefaultMatchers(), time.Second, zap.NewNop(), nil)
	if _, err := pool.Run(ctx, facePlane(), facePlane()); err == nil {
		t.Fatal("expected error for cancelled parent context")
	}
}

func TestPoolRunsDefaultEnsemble(t *testing.T) {
	pool := NewPool(DefaultMatchers(), time.Second, zap.NewNop(), nil)
	if pool.Size() != 4 {
		t.Fatalf("expected 4 scorers, got %d", pool.Size())
	}

	p := facePlane()
	res, err := pool.Run(context.Background(), p, p)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"triplet", "arcface", "cosface", "sphereface"} {
		r, ok := res.Algorithms[name]
		if !ok {
			t.Errorf("missing result for %s", name)
			continue
		}
		if !r.Matched {
			t.Errorf("%s: identical pair must match, score=%f", name, r.Score)
		}
	}
	if res.Metrics == nil {
		t.Fatal("expected classical metrics")
	}
	if res.Metrics.Average() < 0.99 {
		t.Errorf("expected classical average near 1, got %f", res.Metrics.Average())
	}
}
