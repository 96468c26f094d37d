package ml

import (
	"math"
	"math/rand"
	"sort"
)

// GenerateSyntheticRows produces labeled farmer rows for bootstrap training
// when the store has no history yet: lognormal farm sizes and revenues,
// uniform consistency and expense ratios, with the top 30% of a composite
// risk score labeled creditworthy.
func GenerateSyntheticRows(n int, seed int64) []TrainingRow {
	if n <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(seed))
	rows := make([]TrainingRow, n)
	risk := make([]float64, n)

	maxFarmSize := 0.0
	for i := range rows {
		farmSize := math.Exp(rng.NormFloat64() + 2)
		yearsFarming := float64(1 + rng.Intn(29))
		crops := 1 + rng.Intn(5)
		yield := math.Max(rng.NormFloat64()*1000+4000, 200)
		consistency := 0.6 + 0.4*rng.Float64()
		revenue := math.Exp(rng.NormFloat64() + 10)
		expenseRatio := 0.4 + 0.5*rng.Float64()
		trainingHours := float64(rng.Intn(100))
		coopYears := float64(rng.Intn(10))
		visits := float64(rng.Intn(24))
		repayment := 0.7 + 0.3*rng.Float64()
		loans := rng.Intn(3)

		rows[i] = TrainingRow{Profile: FarmerProfile{
			FarmSizeAcres:     farmSize,
			YearsFarming:      yearsFarming,
			CropDiversity:     crops,
			MonthlyRevenue:    revenue,
			ExpenseRatio:      expenseRatio,
			TrainingHours:     trainingHours,
			CoopMembershipYrs: coopYears,
			YieldKgPerAcre:    &yield,
			YieldConsistency:  &consistency,
			AdvisoryVisits:    &visits,
			ExistingLoans:     &loans,
			RepaymentHistory:  &repayment,
		}}
		maxFarmSize = math.Max(maxFarmSize, farmSize)
		risk[i] = 0.15*(yearsFarming/30) +
			0.1*(float64(crops)/5) +
			0.1*consistency +
			0.1*(1-expenseRatio) +
			0.15*repayment +
			0.1*(trainingHours/100) +
			0.1*(coopYears/10)
	}
	for i := range rows {
		risk[i] += 0.2 * rows[i].Profile.FarmSizeAcres / maxFarmSize
	}

	cutoff := percentile(risk, 0.7)
	for i := range rows {
		if risk[i] > cutoff {
			rows[i].Label = 1
		}
	}
	return rows
}

func percentile(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}
