package training

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"farmcredit/ml"
)

// ErrMissingArtifact is returned when a required latest component is absent.
var ErrMissingArtifact = errors.New("missing model artifact")

const (
	componentEnsemble = "ensemble"
	componentScaler   = "scaler"
	componentFeatures = "feature_metadata"

	timestampLayout = "20060102_150405"
	lockFileName    = ".training.lock"
)

// EvaluationRecord is the persisted evaluation_{timestamp}.json shape.
type EvaluationRecord struct {
	Timestamp    string                 `json:"timestamp"`
	RunID        string                 `json:"run_id"`
	Metrics      *ml.EvaluationMetrics  `json:"metrics"`
	FeatureStats ml.FeatureMetadata     `json:"feature_stats"`
	Config       map[string]interface{} `json:"config"`
}

// SaveBundle writes a new immutable timestamped version of every component
// and then moves the latest pointers. Each timestamped file is fully written
// before its pointer is published, so readers of *_latest.json never observe
// a partial artifact.
func SaveBundle(dir string, engine *ml.Engine, record EvaluationRecord, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	timestamp := now.Format(timestampLayout)

	// The ensemble pointer is the reload trigger, so it must be published
	// after every other component: a load fired by its rename then always
	// sees a complete, matching bundle.
	components := []struct {
		name    string
		payload interface{}
	}{
		{componentScaler, engine.Ensemble.Scaler},
		{componentFeatures, engine.Metadata()},
		{componentEnsemble, engine.Ensemble},
	}
	for _, c := range components {
		data, err := json.Marshal(c.payload)
		if err != nil {
			return "", fmt.Errorf("marshal %s: %w", c.name, err)
		}
		versioned := filepath.Join(dir, fmt.Sprintf("%s_%s.json", c.name, timestamp))
		if err := os.WriteFile(versioned, data, 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", c.name, err)
		}
		if err := publishLatest(dir, c.name, data); err != nil {
			return "", err
		}
	}

	record.Timestamp = timestamp
	evalData, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal evaluation record: %w", err)
	}
	evalPath := filepath.Join(dir, fmt.Sprintf("evaluation_%s.json", timestamp))
	if err := os.WriteFile(evalPath, evalData, 0o644); err != nil {
		return "", fmt.Errorf("write evaluation record: %w", err)
	}
	return timestamp, nil
}

// publishLatest writes the pointer through a temp file and rename, so a
// concurrent load sees either the old or the new version, never a torn one.
var publishLatest = writeLatestPointer

func writeLatestPointer(dir, name string, data []byte) error {
	latest := filepath.Join(dir, name+"_latest.json")
	tmp := latest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s pointer: %w", name, err)
	}
	if err := os.Rename(tmp, latest); err != nil {
		return fmt.Errorf("publish %s pointer: %w", name, err)
	}
	return nil
}

// LoadBundle reads the full latest component set. Any missing file is fatal;
// there is no partial load.
func LoadBundle(dir string) (*ml.Engine, error) {
	ensembleData, err := readComponent(dir, componentEnsemble)
	if err != nil {
		return nil, err
	}
	scalerData, err := readComponent(dir, componentScaler)
	if err != nil {
		return nil, err
	}
	metaData, err := readComponent(dir, componentFeatures)
	if err != nil {
		return nil, err
	}

	ensemble := &ml.EnsembleModel{}
	if err := json.Unmarshal(ensembleData, ensemble); err != nil {
		return nil, fmt.Errorf("decode ensemble: %w", err)
	}
	scaler := &ml.StandardScaler{}
	if err := json.Unmarshal(scalerData, scaler); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	var meta ml.FeatureMetadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("decode feature metadata: %w", err)
	}

	ensemble.Scaler = scaler
	engine := &ml.Engine{Ensemble: ensemble}
	engine.ApplyMetadata(meta)
	return engine, nil
}

func readComponent(dir, name string) ([]byte, error) {
	path := filepath.Join(dir, name+"_latest.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s (%s)", ErrMissingArtifact, name, path)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// LatestArtifactAge returns the age of the latest ensemble pointer. ok is
// false when no persisted model exists yet.
func LatestArtifactAge(dir string, now time.Time) (time.Duration, bool) {
	info, err := os.Stat(filepath.Join(dir, componentEnsemble+"_latest.json"))
	if err != nil {
		return 0, false
	}
	return now.Sub(info.ModTime()), true
}

// LatestEvaluation reads the most recent evaluation record, by timestamp in
// the file name.
func LatestEvaluation(dir string) (*EvaluationRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read model dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "evaluation_") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: evaluation record", ErrMissingArtifact)
	}
	sort.Strings(names)
	data, err := os.ReadFile(filepath.Join(dir, names[len(names)-1]))
	if err != nil {
		return nil, fmt.Errorf("read evaluation record: %w", err)
	}
	var record EvaluationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode evaluation record: %w", err)
	}
	return &record, nil
}
