package ml

import (
	"errors"
	"math"
)

const (
	defaultYieldConsistency = 0.7
	// Rough conversion used when per-acre yield is not reported: estimate it
	// from revenue and farm size at an assumed 50 units of revenue per kg.
	yieldEstimateDivisor = 50.0
)

// FeatureVector is the fixed-order numeric representation of a profile. The
// name list recorded at training time must match at inference.
type FeatureVector struct {
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
}

// FeatureNames returns the canonical column order: basic attributes first,
// engineered features after.
func FeatureNames() []string {
	return []string{
		"farm_size_acres",
		"years_farming",
		"crop_diversity",
		"monthly_revenue",
		"expense_ratio",
		"training_hours",
		"coop_membership_years",
		"revenue_per_acre",
		"yield_value",
		"knowledge_score",
		"revenue_stability",
		"debt_service_ratio",
		"support_score",
	}
}

// NormalizerMaxima holds the training-batch maxima used to scale the
// knowledge and support scores. Persisting them fixes the degenerate case
// where a single-row inference batch would normalize every ratio to 1.0.
type NormalizerMaxima struct {
	YearsFarming        float64 `json:"years_farming"`
	TrainingHours       float64 `json:"training_hours"`
	AdvisoryVisits      float64 `json:"advisory_visits"`
	CoopMembershipYears float64 `json:"coop_membership_years"`
}

// FeaturePipeline derives feature vectors from raw profiles. Fit records the
// batch maxima; Transform reuses them so inference does not depend on batch
// composition.
type FeaturePipeline struct {
	Maxima NormalizerMaxima `json:"maxima"`
	Fitted bool             `json:"fitted"`
}

// Fit computes the normalizer maxima over the training batch.
func (p *FeaturePipeline) Fit(profiles []FarmerProfile) error {
	if len(profiles) == 0 {
		return errors.New("feature pipeline: empty training batch")
	}
	var m NormalizerMaxima
	for _, profile := range profiles {
		if err := profile.Validate(); err != nil {
			return err
		}
		m.YearsFarming = math.Max(m.YearsFarming, profile.YearsFarming)
		m.TrainingHours = math.Max(m.TrainingHours, profile.TrainingHours)
		m.AdvisoryVisits = math.Max(m.AdvisoryVisits, advisoryVisits(profile))
		m.CoopMembershipYears = math.Max(m.CoopMembershipYears, profile.CoopMembershipYrs)
	}
	p.Maxima = m
	p.Fitted = true
	return nil
}

// Transform derives one feature vector per profile using the fitted maxima.
func (p *FeaturePipeline) Transform(profiles []FarmerProfile) ([]FeatureVector, error) {
	if !p.Fitted {
		return nil, errors.New("feature pipeline: not fitted")
	}
	vectors := make([]FeatureVector, len(profiles))
	for i, profile := range profiles {
		if err := profile.Validate(); err != nil {
			return nil, err
		}
		vectors[i] = p.transformOne(profile)
	}
	return vectors, nil
}

// FitTransform fits on the batch and transforms it in one pass.
func (p *FeaturePipeline) FitTransform(profiles []FarmerProfile) ([]FeatureVector, error) {
	if err := p.Fit(profiles); err != nil {
		return nil, err
	}
	return p.Transform(profiles)
}

func (p *FeaturePipeline) transformOne(profile FarmerProfile) FeatureVector {
	consistency := defaultYieldConsistency
	if profile.YieldConsistency != nil {
		consistency = *profile.YieldConsistency
	}
	yield := profile.MonthlyRevenue / (profile.FarmSizeAcres * yieldEstimateDivisor)
	if profile.YieldKgPerAcre != nil {
		yield = *profile.YieldKgPerAcre
	}
	visits := advisoryVisits(profile)

	revenuePerAcre := profile.MonthlyRevenue / profile.FarmSizeAcres
	yieldValue := yield * consistency
	knowledgeScore := 0.4*profile.YearsFarming/math.Max(p.Maxima.YearsFarming, 1) +
		0.3*profile.TrainingHours/math.Max(p.Maxima.TrainingHours, 1) +
		0.3*visits/math.Max(p.Maxima.AdvisoryVisits, 1)
	revenueStability := consistency * (1 - profile.ExpenseRatio)
	debtServiceRatio := math.Min(
		0.5*profile.MonthlyRevenue,
		profile.MonthlyRevenue-profile.ExpenseRatio*profile.MonthlyRevenue,
	)
	supportScore := (profile.CoopMembershipYrs/math.Max(p.Maxima.CoopMembershipYears, 1) +
		visits/math.Max(p.Maxima.AdvisoryVisits, 1)) / 2

	return FeatureVector{
		Names: FeatureNames(),
		Values: []float64{
			profile.FarmSizeAcres,
			profile.YearsFarming,
			float64(profile.CropDiversity),
			profile.MonthlyRevenue,
			profile.ExpenseRatio,
			profile.TrainingHours,
			profile.CoopMembershipYrs,
			revenuePerAcre,
			yieldValue,
			knowledgeScore,
			revenueStability,
			debtServiceRatio,
			supportScore,
		},
	}
}

func advisoryVisits(profile FarmerProfile) float64 {
	if profile.AdvisoryVisits == nil {
		return 0
	}
	return *profile.AdvisoryVisits
}

// Matrix flattens feature vectors into the row-major form the learners consume.
func Matrix(vectors []FeatureVector) [][]float64 {
	rows := make([][]float64, len(vectors))
	for i, v := range vectors {
		rows[i] = v.Values
	}
	return rows
}
