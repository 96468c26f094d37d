package training

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"farmcredit/ml"
)

type stubSource struct {
	rows []ml.TrainingRow
	err  error
}

func (s *stubSource) FetchTrainingRows(ctx context.Context) ([]ml.TrainingRow, error) {
	return s.rows, s.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recordingSink) Publish(e ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	stages := make([]string, len(r.events))
	for i, e := range r.events {
		stages[i] = e.Stage
	}
	return stages
}

func testConfig(dir string) Config {
	return Config{
		ModelDir:        dir,
		TestSize:        0.2,
		Seed:            7,
		StalenessWindow: 24 * time.Hour,
		MinRows:         20,
		Params: ml.EnsembleParams{
			GBEstimators:       20,
			GBMaxDepth:         3,
			GBLearningRate:     0.1,
			ForestEstimators:   15,
			ForestMaxDepth:     4,
			LogisticC:          0.1,
			LogisticIterations: 200,
			Seed:               42,
		},
	}
}

func newTestManager(t *testing.T, dir string) (*Manager, *stubSource) {
	t.Helper()
	source := &stubSource{rows: ml.GenerateSyntheticRows(120, 7)}
	return NewManager(testConfig(dir), source, nil, nil), source
}

func TestManagerRunPersistsArtifacts(t *testing.T) {
	dir := t.TempDir()
	manager, _ := newTestManager(t, dir)
	sink := &recordingSink{}
	manager.SetProgressSink(sink)

	result, err := manager.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped {
		t.Fatalf("expected a training run, got skip: %s", result.SkipReason)
	}
	if result.Metrics == nil {
		t.Fatalf("expected metrics on run result")
	}
	if manager.State() != StatePersisted {
		t.Fatalf("expected state persisted, got %s", manager.State())
	}

	for _, name := range []string{"ensemble_latest.json", "scaler_latest.json", "feature_metadata_latest.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected artifact %s: %v", name, err)
		}
	}
	versioned, err := filepath.Glob(filepath.Join(dir, "ensemble_2*.json"))
	if err != nil || len(versioned) != 1 {
		t.Fatalf("expected one timestamped ensemble artifact, got %v (%v)", versioned, err)
	}
	evaluations, err := filepath.Glob(filepath.Join(dir, "evaluation_*.json"))
	if err != nil || len(evaluations) != 1 {
		t.Fatalf("expected one evaluation record, got %v (%v)", evaluations, err)
	}

	stages := sink.stages()
	want := []string{"training", "evaluated", "persisted"}
	if len(stages) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, stages)
	}
	for i, stage := range want {
		if stages[i] != stage {
			t.Fatalf("expected stage %q at %d, got %q", stage, i, stages[i])
		}
	}
}

func TestManagerSkipsRecentArtifact(t *testing.T) {
	dir := t.TempDir()
	manager, _ := newTestManager(t, dir)

	if _, err := manager.Run(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := manager.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("expected skip for a fresh artifact")
	}

	// Force bypasses the gate even when the artifact is fresh.
	result, err = manager.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped {
		t.Fatalf("expected forced run to train")
	}
}

func TestManagerStalenessBoundary(t *testing.T) {
	dir := t.TempDir()
	manager, _ := newTestManager(t, dir)
	ctx := context.Background()

	if _, err := manager.Run(ctx, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pointer := filepath.Join(dir, "ensemble_latest.json")

	// Just inside the window: still fresh.
	almost := time.Now().Add(-24*time.Hour + time.Minute)
	if err := os.Chtimes(pointer, almost, almost); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := manager.Run(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("expected skip at 23h59m")
	}

	// Past the window: retrain.
	stale := time.Now().Add(-25 * time.Hour)
	if err := os.Chtimes(pointer, stale, stale); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err = manager.Run(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped {
		t.Fatalf("expected retrain for a stale artifact")
	}
}

func TestManagerLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	manager, _ := newTestManager(t, dir)

	if _, err := manager.Run(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	trained, err := manager.Engine()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	restored, err := manager.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if manager.State() != StateLoaded {
		t.Fatalf("expected state loaded, got %s", manager.State())
	}

	profile := ml.FarmerProfile{
		FarmSizeAcres: 5, YearsFarming: 12, CropDiversity: 3,
		MonthlyRevenue: 3000, ExpenseRatio: 0.5,
		TrainingHours: 20, CoopMembershipYrs: 3,
	}
	want, err := trained.Predict(profile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := restored.Predict(profile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(want.Probability-got.Probability) > 1e-9 {
		t.Fatalf("expected probability %.9f after reload, got %.9f",
			want.Probability, got.Probability)
	}

	// The attribution must survive the reload too, not just the score.
	if want.Attribution == nil || got.Attribution == nil {
		t.Fatalf("expected attribution before and after reload")
	}
	if math.Abs(want.Attribution.Baseline-got.Attribution.Baseline) > 1e-9 {
		t.Fatalf("expected baseline %.9f after reload, got %.9f",
			want.Attribution.Baseline, got.Attribution.Baseline)
	}
	if math.Abs(want.Attribution.Margin-got.Attribution.Margin) > 1e-9 {
		t.Fatalf("expected margin %.9f after reload, got %.9f",
			want.Attribution.Margin, got.Attribution.Margin)
	}
	if len(got.Attribution.Contributions) != len(want.Attribution.Contributions) {
		t.Fatalf("expected %d contributions after reload, got %d",
			len(want.Attribution.Contributions), len(got.Attribution.Contributions))
	}
	for i := range want.Attribution.Contributions {
		if math.Abs(want.Attribution.Contributions[i]-got.Attribution.Contributions[i]) > 1e-9 {
			t.Fatalf("contribution %d: expected %.9f after reload, got %.9f",
				i, want.Attribution.Contributions[i], got.Attribution.Contributions[i])
		}
	}
	if len(got.Attribution.Weights) != len(want.Attribution.Weights) {
		t.Fatalf("expected %d weights after reload, got %d",
			len(want.Attribution.Weights), len(got.Attribution.Weights))
	}
	for i := range want.Attribution.Weights {
		if math.Abs(want.Attribution.Weights[i]-got.Attribution.Weights[i]) > 1e-9 {
			t.Fatalf("weight %d: expected %.9f after reload, got %.9f",
				i, want.Attribution.Weights[i], got.Attribution.Weights[i])
		}
	}
}

type noopLocker struct{}

func (noopLocker) Acquire() (func(), error) { return func() {}, nil }

func TestManagerRunResetsStateOnPersistFailure(t *testing.T) {
	// Point the model dir at a regular file so persisting the bundle fails
	// after training and evaluation have already succeeded.
	blocked := filepath.Join(t.TempDir(), "models")
	if err := os.WriteFile(blocked, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	source := &stubSource{rows: ml.GenerateSyntheticRows(120, 7)}
	manager := NewManager(testConfig(blocked), source, noopLocker{}, nil)

	if _, err := manager.Run(context.Background(), true); err == nil {
		t.Fatalf("expected persist failure")
	}
	if manager.State() != StateUntrained {
		t.Fatalf("expected state untrained after persist failure, got %s", manager.State())
	}
}

func TestManagerLoadMissingArtifacts(t *testing.T) {
	manager, _ := newTestManager(t, t.TempDir())
	if _, err := manager.Load(); !errors.Is(err, ErrMissingArtifact) {
		t.Fatalf("expected ErrMissingArtifact, got %v", err)
	}
}

func TestManagerRejectsTooFewRows(t *testing.T) {
	dir := t.TempDir()
	source := &stubSource{rows: ml.GenerateSyntheticRows(5, 7)}
	manager := NewManager(testConfig(dir), source, nil, nil)

	if _, err := manager.Run(context.Background(), true); err == nil {
		t.Fatalf("expected error for too few rows")
	}
	if manager.State() != StateUntrained {
		t.Fatalf("expected state untrained after failed run, got %s", manager.State())
	}
}

func TestManagerFetchFailure(t *testing.T) {
	dir := t.TempDir()
	source := &stubSource{err: errors.New("connection refused")}
	manager := NewManager(testConfig(dir), source, nil, nil)

	if _, err := manager.Run(context.Background(), true); err == nil {
		t.Fatalf("expected fetch error to surface")
	}
	// The lock must be released on the failure path.
	if _, err := os.Stat(filepath.Join(dir, ".training.lock")); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed after failed run")
	}
}

func TestManagerSurfacesLockContention(t *testing.T) {
	dir := t.TempDir()
	manager, _ := newTestManager(t, dir)

	lock := NewFileLock(filepath.Join(dir, ".training.lock"))
	release, err := lock.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release()

	if _, err := manager.Run(context.Background(), true); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
}
