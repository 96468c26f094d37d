package training

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"farmcredit/ml"
)

// State is the lifecycle position of the manager.
type State int

const (
	StateUntrained State = iota
	StateTraining
	StateTrained
	StateEvaluated
	StatePersisted
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateUntrained:
		return "untrained"
	case StateTraining:
		return "training"
	case StateTrained:
		return "trained"
	case StateEvaluated:
		return "evaluated"
	case StatePersisted:
		return "persisted"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// TrainingSource supplies labeled rows, usually the left-joined store tables.
type TrainingSource interface {
	FetchTrainingRows(ctx context.Context) ([]ml.TrainingRow, error)
}

// ProgressEvent is emitted at each lifecycle stage of a run.
type ProgressEvent struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressSink receives run progress, e.g. the websocket hub. May be nil.
type ProgressSink interface {
	Publish(ProgressEvent)
}

// Config holds the training-run parameters.
type Config struct {
	ModelDir        string
	TestSize        float64
	Seed            int64
	StalenessWindow time.Duration
	Params          ml.EnsembleParams
	MinRows         int
}

// RunResult summarizes one training invocation. A staleness skip is a
// successful no-op, not an error.
type RunResult struct {
	RunID      string                `json:"run_id"`
	Skipped    bool                  `json:"skipped"`
	SkipReason string                `json:"skip_reason,omitempty"`
	Timestamp  string                `json:"timestamp,omitempty"`
	Metrics    *ml.EvaluationMetrics `json:"metrics,omitempty"`
}

// Manager orchestrates train, evaluate, persist, and load. The logger and
// lock provider are injected; there is no process-global state.
type Manager struct {
	cfg    Config
	source TrainingSource
	locker Locker
	logger *zap.Logger
	sink   ProgressSink
	now    func() time.Time

	mu      sync.Mutex
	state   State
	engine  *ml.Engine
	metrics *ml.EvaluationMetrics
}

func NewManager(cfg Config, source TrainingSource, locker Locker, logger *zap.Logger) *Manager {
	if cfg.TestSize <= 0 || cfg.TestSize >= 1 {
		cfg.TestSize = 0.2
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = 24 * time.Hour
	}
	if cfg.MinRows <= 0 {
		cfg.MinRows = 20
	}
	if locker == nil {
		locker = NewFileLock(filepath.Join(cfg.ModelDir, lockFileName))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		source: source,
		locker: locker,
		logger: logger,
		now:    time.Now,
		state:  StateUntrained,
	}
}

// SetProgressSink attaches a sink for run progress events.
func (m *Manager) SetProgressSink(sink ProgressSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Engine returns the trained or loaded engine, or ErrNotTrained.
func (m *Manager) Engine() (*ml.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine == nil {
		return nil, ml.ErrNotTrained
	}
	return m.engine, nil
}

// Run executes one training cycle: lock, staleness gate, fetch, train,
// evaluate, persist. Training is run-to-completion; the lock is released on
// every exit path. Lock contention surfaces as ErrLockHeld.
func (m *Manager) Run(ctx context.Context, force bool) (*RunResult, error) {
	runID := uuid.NewString()
	log := m.logger.With(zap.String("run_id", runID))

	release, err := m.locker.Acquire()
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			log.Warn("training lock held by another run, exiting without work")
		}
		return nil, err
	}
	defer release()

	if !force {
		if age, ok := LatestArtifactAge(m.cfg.ModelDir, m.now()); ok && age < m.cfg.StalenessWindow {
			log.Info("recent model found, skipping training",
				zap.Duration("artifact_age", age),
				zap.Duration("staleness_window", m.cfg.StalenessWindow))
			return &RunResult{RunID: runID, Skipped: true, SkipReason: "recent artifact"}, nil
		}
	}

	started := m.now()
	m.setState(StateTraining)
	m.publish(runID, "training", "fetching training rows")

	rows, err := m.source.FetchTrainingRows(ctx)
	if err != nil {
		m.setState(StateUntrained)
		return nil, fmt.Errorf("training run %s: fetch training data: %w", runID, err)
	}
	if len(rows) < m.cfg.MinRows {
		m.setState(StateUntrained)
		return nil, fmt.Errorf("training run %s: %d rows, need at least %d", runID, len(rows), m.cfg.MinRows)
	}
	log.Info("fetched training rows", zap.Int("rows", len(rows)))

	engine, metrics, err := m.trainAndEvaluate(rows)
	if err != nil {
		m.setState(StateUntrained)
		return nil, fmt.Errorf("training run %s: %w", runID, err)
	}
	m.setState(StateEvaluated)
	m.publish(runID, "evaluated", fmt.Sprintf("roc_auc=%.3f f1=%.3f", metrics.ROCAUC, metrics.F1))

	record := EvaluationRecord{
		RunID:        runID,
		Metrics:      metrics,
		FeatureStats: engine.Metadata(),
		Config: map[string]interface{}{
			"test_size":        m.cfg.TestSize,
			"seed":             m.cfg.Seed,
			"staleness_window": m.cfg.StalenessWindow.String(),
			"gb_estimators":    m.cfg.Params.GBEstimators,
			"forest_trees":     m.cfg.Params.ForestEstimators,
		},
	}
	timestamp, err := SaveBundle(m.cfg.ModelDir, engine, record, m.now())
	if err != nil {
		m.setState(StateUntrained)
		return nil, fmt.Errorf("training run %s: persist artifacts: %w", runID, err)
	}

	m.mu.Lock()
	m.engine = engine
	m.metrics = metrics
	m.state = StatePersisted
	m.mu.Unlock()

	m.publish(runID, "persisted", timestamp)
	log.Info("training run complete",
		zap.String("artifact_timestamp", timestamp),
		zap.Duration("duration", m.now().Sub(started)),
		zap.Float64("roc_auc", metrics.ROCAUC),
		zap.Float64("precision", metrics.Precision),
		zap.Float64("recall", metrics.Recall))

	return &RunResult{RunID: runID, Timestamp: timestamp, Metrics: metrics}, nil
}

func (m *Manager) trainAndEvaluate(rows []ml.TrainingRow) (*ml.Engine, *ml.EvaluationMetrics, error) {
	trainRows, testRows := splitRows(rows, m.cfg.TestSize, m.cfg.Seed)

	trainProfiles := make([]ml.FarmerProfile, len(trainRows))
	trainLabels := make([]int, len(trainRows))
	for i, row := range trainRows {
		trainProfiles[i] = row.Profile
		trainLabels[i] = row.Label
	}

	pipeline := &ml.FeaturePipeline{}
	trainVectors, err := pipeline.FitTransform(trainProfiles)
	if err != nil {
		return nil, nil, fmt.Errorf("derive training features: %w", err)
	}

	ensemble := ml.NewEnsemble(m.cfg.Params)
	if err := ensemble.Train(trainVectors, trainLabels); err != nil {
		return nil, nil, err
	}
	m.setState(StateTrained)

	testProfiles := make([]ml.FarmerProfile, len(testRows))
	testLabels := make([]int, len(testRows))
	for i, row := range testRows {
		testProfiles[i] = row.Profile
		testLabels[i] = row.Label
	}
	testVectors, err := pipeline.Transform(testProfiles)
	if err != nil {
		return nil, nil, fmt.Errorf("derive evaluation features: %w", err)
	}
	metrics, err := ml.Evaluate(ensemble, testVectors, testLabels)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate: %w", err)
	}

	return &ml.Engine{Pipeline: *pipeline, Ensemble: ensemble}, metrics, nil
}

// Load restores the latest persisted bundle. A loaded manager behaves like a
// trained and evaluated one for scoring purposes.
func (m *Manager) Load() (*ml.Engine, error) {
	engine, err := LoadBundle(m.cfg.ModelDir)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.engine = engine
	m.state = StateLoaded
	m.mu.Unlock()
	m.logger.Info("model bundle loaded", zap.String("model_dir", m.cfg.ModelDir))
	return engine, nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) publish(runID, stage, detail string) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink == nil {
		return
	}
	sink.Publish(ProgressEvent{
		RunID:     runID,
		Stage:     stage,
		Detail:    detail,
		Timestamp: m.now(),
	})
}

func splitRows(rows []ml.TrainingRow, testSize float64, seed int64) (train, test []ml.TrainingRow) {
	shuffled := append([]ml.TrainingRow(nil), rows...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	split := int(float64(len(shuffled)) * (1 - testSize))
	if split <= 0 {
		split = 1
	}
	if split >= len(shuffled) {
		split = len(shuffled) - 1
	}
	return shuffled[:split], shuffled[split:]
}
