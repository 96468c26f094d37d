package ml

import "math"

// CandidateTerms are the loan terms a full schedule table is generated for,
// regardless of which tier the score lands in.
var CandidateTerms = []int{12, 18, 24, 36}

// ScheduleEntry is one month of an amortization schedule.
type ScheduleEntry struct {
	Month            int     `json:"month"`
	Payment          float64 `json:"payment"`
	RemainingBalance float64 `json:"remaining_balance"`
}

// TermSchedule is the amortization table for one candidate term.
type TermSchedule struct {
	MonthlyPayment float64         `json:"monthly_payment"`
	TotalInterest  float64         `json:"total_interest"`
	Schedule       []ScheduleEntry `json:"schedule"`
}

// LoanSimulationResult holds the tiered loan terms and the per-term tables.
type LoanSimulationResult struct {
	MaxLoanAmount     float64              `json:"max_loan_amount"`
	InterestRate      float64              `json:"interest_rate"`
	RecommendedTerm   int                  `json:"recommended_term"`
	MaxMonthlyPayment float64              `json:"max_monthly_payment"`
	PaymentSchedules  map[int]TermSchedule `json:"payment_schedules"`
}

// SimulateLoanTerms converts a credit score and financial profile into loan
// terms. Pure function: same inputs, same output, no side effects.
//
// Tiers: score >= 0.8 scales the amount 1.5x at a 0.8x rate over 36 months;
// 0.6 <= score < 0.8 scales 1.2x at 0.9x keeping the 24-month baseline;
// below 0.6 shrinks to 0.8x at 1.2x over 18 months. The schedule table is
// still produced for every candidate term so downstream consumers can show
// alternatives next to the recommendation.
func SimulateLoanTerms(creditScore, monthlyRevenue, expenseRatio float64) LoanSimulationResult {
	maxMonthlyPayment := monthlyRevenue * (1 - expenseRatio) * 0.5

	maxLoanAmount := maxMonthlyPayment * 24
	recommendedTerm := 24
	interestRate := 0.15

	switch {
	case creditScore >= 0.8:
		maxLoanAmount *= 1.5
		interestRate *= 0.8
		recommendedTerm = 36
	case creditScore >= 0.6:
		maxLoanAmount *= 1.2
		interestRate *= 0.9
	default:
		maxLoanAmount *= 0.8
		interestRate *= 1.2
		recommendedTerm = 18
	}

	schedules := make(map[int]TermSchedule, len(CandidateTerms))
	for _, term := range CandidateTerms {
		monthlyPayment := maxLoanAmount * (1 + interestRate) / float64(term)
		schedule := make([]ScheduleEntry, 0, term)
		for month := 1; month <= term; month++ {
			schedule = append(schedule, ScheduleEntry{
				Month:            month,
				Payment:          monthlyPayment,
				RemainingBalance: math.Max(0, maxLoanAmount-monthlyPayment*float64(month)),
			})
		}
		schedules[term] = TermSchedule{
			MonthlyPayment: monthlyPayment,
			TotalInterest:  monthlyPayment*float64(term) - maxLoanAmount,
			Schedule:       schedule,
		}
	}

	return LoanSimulationResult{
		MaxLoanAmount:     maxLoanAmount,
		InterestRate:      interestRate,
		RecommendedTerm:   recommendedTerm,
		MaxMonthlyPayment: maxMonthlyPayment,
		PaymentSchedules:  schedules,
	}
}
