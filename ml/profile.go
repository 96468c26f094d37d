package ml

// FarmerProfile is the raw applicant record. Pointer fields are optional and
// fall back to documented defaults during feature derivation.
type FarmerProfile struct {
	FarmerID          string  `json:"farmer_id,omitempty"`
	FarmSizeAcres     float64 `json:"farm_size_acres"`
	YearsFarming      float64 `json:"years_farming"`
	CropDiversity     int     `json:"crop_diversity"`
	MonthlyRevenue    float64 `json:"monthly_revenue"`
	ExpenseRatio      float64 `json:"expense_ratio"`
	TrainingHours     float64 `json:"training_hours"`
	CoopMembershipYrs float64 `json:"coop_membership_years"`

	YieldKgPerAcre   *float64 `json:"yield_kg_per_acre,omitempty"`
	YieldConsistency *float64 `json:"yield_consistency,omitempty"`
	AdvisoryVisits   *float64 `json:"advisory_visits,omitempty"`
	ExistingLoans    *int     `json:"existing_loans,omitempty"`
	RepaymentHistory *float64 `json:"repayment_history,omitempty"`
}

// Validate checks field ranges. Ratios live in [0,1], counts are
// non-negative, and the divisors used downstream must be positive.
func (p FarmerProfile) Validate() error {
	if p.FarmSizeAcres <= 0 {
		return &ValidationError{Field: "farm_size_acres", Reason: "must be positive"}
	}
	if p.MonthlyRevenue <= 0 {
		return &ValidationError{Field: "monthly_revenue", Reason: "must be positive"}
	}
	if p.CropDiversity < 1 || p.CropDiversity > 10 {
		return &ValidationError{Field: "crop_diversity", Reason: "must be between 1 and 10"}
	}
	if p.YearsFarming < 0 {
		return &ValidationError{Field: "years_farming", Reason: "must not be negative"}
	}
	if p.ExpenseRatio < 0 || p.ExpenseRatio > 1 {
		return &ValidationError{Field: "expense_ratio", Reason: "must be between 0 and 1"}
	}
	if p.TrainingHours < 0 {
		return &ValidationError{Field: "training_hours", Reason: "must not be negative"}
	}
	if p.CoopMembershipYrs < 0 {
		return &ValidationError{Field: "coop_membership_years", Reason: "must not be negative"}
	}
	if p.YieldKgPerAcre != nil && *p.YieldKgPerAcre < 0 {
		return &ValidationError{Field: "yield_kg_per_acre", Reason: "must not be negative"}
	}
	if p.YieldConsistency != nil && (*p.YieldConsistency < 0 || *p.YieldConsistency > 1) {
		return &ValidationError{Field: "yield_consistency", Reason: "must be between 0 and 1"}
	}
	if p.AdvisoryVisits != nil && *p.AdvisoryVisits < 0 {
		return &ValidationError{Field: "advisory_visits", Reason: "must not be negative"}
	}
	if p.ExistingLoans != nil && *p.ExistingLoans < 0 {
		return &ValidationError{Field: "existing_loans", Reason: "must not be negative"}
	}
	if p.RepaymentHistory != nil && (*p.RepaymentHistory < 0 || *p.RepaymentHistory > 1) {
		return &ValidationError{Field: "repayment_history", Reason: "must be between 0 and 1"}
	}
	return nil
}

// TrainingRow pairs a profile with its creditworthiness label (0 or 1).
type TrainingRow struct {
	Profile FarmerProfile
	Label   int
}
