package ml

import "fmt"

// FeatureMetadata is the persisted feature artifact: the training-time
// column order, the tree-based importance ranking, and the normalizer maxima.
type FeatureMetadata struct {
	Names      []string            `json:"names"`
	Importance []FeatureImportance `json:"importance"`
	Maxima     NormalizerMaxima    `json:"maxima"`
}

// Engine bundles the fitted feature pipeline with the trained ensemble.
// It is immutable once assembled and safe for concurrent use.
type Engine struct {
	Pipeline FeaturePipeline
	Ensemble *EnsembleModel
}

// Predict validates the profile, derives its feature vector with the
// training-time pipeline, and scores it.
func (e *Engine) Predict(profile FarmerProfile) (*PredictionResult, error) {
	if e.Ensemble == nil || !e.Ensemble.Trained() {
		return nil, ErrNotTrained
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	vectors, err := e.Pipeline.Transform([]FarmerProfile{profile})
	if err != nil {
		return nil, fmt.Errorf("engine: derive features: %w", err)
	}
	return e.Ensemble.Predict(vectors[0])
}

// Metadata exposes the feature artifact for persistence.
func (e *Engine) Metadata() FeatureMetadata {
	return FeatureMetadata{
		Names:      append([]string(nil), e.Ensemble.FeatureNames...),
		Importance: append([]FeatureImportance(nil), e.Ensemble.Importance...),
		Maxima:     e.Pipeline.Maxima,
	}
}

// ApplyMetadata restores the pipeline and ensemble metadata after loading
// the persisted components.
func (e *Engine) ApplyMetadata(meta FeatureMetadata) {
	e.Pipeline = FeaturePipeline{Maxima: meta.Maxima, Fitted: true}
	if e.Ensemble != nil {
		e.Ensemble.FeatureNames = append([]string(nil), meta.Names...)
		e.Ensemble.Importance = append([]FeatureImportance(nil), meta.Importance...)
	}
}
