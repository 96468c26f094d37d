// Package db is the sqlite-backed store for farmer, loan, transaction, and
// credit-score records. The engine does not own these tables' lifecycle
// beyond the bootstrap DDL; it consumes them through the left-join fetch.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"farmcredit/ml"
)

const schema = `
CREATE TABLE IF NOT EXISTS farmers (
    farmer_id VARCHAR(40) PRIMARY KEY,
    farm_size_acres REAL NOT NULL,
    years_farming REAL NOT NULL,
    crop_diversity INTEGER NOT NULL,
    monthly_revenue REAL NOT NULL,
    expense_ratio REAL NOT NULL,
    training_hours REAL DEFAULT 0,
    coop_membership_years REAL DEFAULT 0,
    yield_kg_per_acre REAL,
    yield_consistency REAL,
    advisory_visits REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS loans (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    farmer_id VARCHAR(40) NOT NULL,
    loan_amount REAL NOT NULL,
    repayment_period INTEGER NOT NULL,
    repayment_history REAL,
    purpose TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    farmer_id VARCHAR(40) NOT NULL,
    amount REAL NOT NULL,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS credit_scores (
    farmer_id VARCHAR(40) PRIMARY KEY,
    credit_score REAL,
    creditworthy INTEGER,
    risk_level TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    farmer_id VARCHAR(40),
    probability REAL NOT NULL,
    uncertainty REAL NOT NULL,
    approved INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS training_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id VARCHAR(40) NOT NULL,
    roc_auc REAL,
    precision REAL,
    recall REAL,
    f1 REAL,
    data_points INTEGER,
    trained_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(run_id)
);
`

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store wraps the sqlite connection.
type Store struct {
	db           *sqlx.DB
	targetColumn string
}

// Open connects to the sqlite file and bootstraps the schema.
func Open(path, targetColumn string) (*Store, error) {
	if targetColumn == "" {
		targetColumn = "creditworthy"
	}
	if !identifierPattern.MatchString(targetColumn) {
		return nil, fmt.Errorf("invalid target column %q", targetColumn)
	}
	conn, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &Store{db: conn, targetColumn: targetColumn}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type trainingRowRecord struct {
	FarmerID          string          `db:"farmer_id"`
	FarmSizeAcres     float64         `db:"farm_size_acres"`
	YearsFarming      float64         `db:"years_farming"`
	CropDiversity     int             `db:"crop_diversity"`
	MonthlyRevenue    float64         `db:"monthly_revenue"`
	ExpenseRatio      float64         `db:"expense_ratio"`
	TrainingHours     float64         `db:"training_hours"`
	CoopMembershipYrs float64         `db:"coop_membership_years"`
	YieldKgPerAcre    sql.NullFloat64 `db:"yield_kg_per_acre"`
	YieldConsistency  sql.NullFloat64 `db:"yield_consistency"`
	AdvisoryVisits    sql.NullFloat64 `db:"advisory_visits"`
	RepaymentHistory  sql.NullFloat64 `db:"repayment_history"`
	LoanCount         sql.NullInt64   `db:"loan_count"`
	Label             sql.NullInt64   `db:"label"`
}

// FetchTrainingRows left-joins farmers, aggregated loans, and credit scores
// on farmer_id and returns labeled rows. Rows without a target value are
// dropped, not imputed. Transactions feed no feature column, so the fetch
// never touches that table.
func (s *Store) FetchTrainingRows(ctx context.Context) ([]ml.TrainingRow, error) {
	query := fmt.Sprintf(`
        SELECT f.farmer_id, f.farm_size_acres, f.years_farming, f.crop_diversity,
               f.monthly_revenue, f.expense_ratio, f.training_hours, f.coop_membership_years,
               f.yield_kg_per_acre, f.yield_consistency, f.advisory_visits,
               l.repayment_history, l.loan_count,
               cs.%s AS label
        FROM farmers f
        LEFT JOIN (
            SELECT farmer_id, AVG(repayment_history) AS repayment_history, COUNT(*) AS loan_count
            FROM loans GROUP BY farmer_id
        ) l ON l.farmer_id = f.farmer_id
        LEFT JOIN credit_scores cs ON cs.farmer_id = f.farmer_id`, s.targetColumn)

	var records []trainingRowRecord
	if err := s.db.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("fetch training rows: %w", err)
	}

	rows := make([]ml.TrainingRow, 0, len(records))
	for _, rec := range records {
		if !rec.Label.Valid {
			continue
		}
		profile := ml.FarmerProfile{
			FarmerID:          rec.FarmerID,
			FarmSizeAcres:     rec.FarmSizeAcres,
			YearsFarming:      rec.YearsFarming,
			CropDiversity:     rec.CropDiversity,
			MonthlyRevenue:    rec.MonthlyRevenue,
			ExpenseRatio:      rec.ExpenseRatio,
			TrainingHours:     rec.TrainingHours,
			CoopMembershipYrs: rec.CoopMembershipYrs,
		}
		if rec.YieldKgPerAcre.Valid {
			v := rec.YieldKgPerAcre.Float64
			profile.YieldKgPerAcre = &v
		}
		if rec.YieldConsistency.Valid {
			v := rec.YieldConsistency.Float64
			profile.YieldConsistency = &v
		}
		if rec.AdvisoryVisits.Valid {
			v := rec.AdvisoryVisits.Float64
			profile.AdvisoryVisits = &v
		}
		if rec.RepaymentHistory.Valid {
			v := rec.RepaymentHistory.Float64
			profile.RepaymentHistory = &v
		}
		if rec.LoanCount.Valid {
			v := int(rec.LoanCount.Int64)
			profile.ExistingLoans = &v
		}
		label := 0
		if rec.Label.Int64 != 0 {
			label = 1
		}
		rows = append(rows, ml.TrainingRow{Profile: profile, Label: label})
	}
	return rows, nil
}

// SeedTrainingRows inserts labeled rows, used to bootstrap an empty store
// with synthetic data.
func (s *Store) SeedTrainingRows(ctx context.Context, rows []ml.TrainingRow) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for i, row := range rows {
		p := row.Profile
		farmerID := p.FarmerID
		if farmerID == "" {
			farmerID = fmt.Sprintf("synthetic-%04d", i)
		}
		_, err := tx.ExecContext(ctx, `
            INSERT OR REPLACE INTO farmers (
                farmer_id, farm_size_acres, years_farming, crop_diversity,
                monthly_revenue, expense_ratio, training_hours, coop_membership_years,
                yield_kg_per_acre, yield_consistency, advisory_visits
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			farmerID, p.FarmSizeAcres, p.YearsFarming, p.CropDiversity,
			p.MonthlyRevenue, p.ExpenseRatio, p.TrainingHours, p.CoopMembershipYrs,
			nullable(p.YieldKgPerAcre), nullable(p.YieldConsistency), nullable(p.AdvisoryVisits))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("seed farmer %s: %w", farmerID, err)
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT OR REPLACE INTO credit_scores (farmer_id, %s) VALUES (?, ?)`, s.targetColumn),
			farmerID, row.Label)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("seed credit score %s: %w", farmerID, err)
		}
	}
	return tx.Commit()
}

// SavePrediction logs a served prediction.
func (s *Store) SavePrediction(ctx context.Context, farmerID string, result *ml.PredictionResult) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions (farmer_id, probability, uncertainty, approved)
        VALUES (?, ?, ?, ?)`,
		farmerID, result.Probability, result.Uncertainty, result.Approved)
	if err != nil {
		return fmt.Errorf("save prediction: %w", err)
	}
	return nil
}

// RecordTrainingRun logs the outcome of a completed run.
func (s *Store) RecordTrainingRun(ctx context.Context, runID string, metrics *ml.EvaluationMetrics, trainedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT OR REPLACE INTO training_runs (run_id, roc_auc, precision, recall, f1, data_points, trained_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, metrics.ROCAUC, metrics.Precision, metrics.Recall, metrics.F1, metrics.Samples, trainedAt)
	if err != nil {
		return fmt.Errorf("record training run: %w", err)
	}
	return nil
}

// TrainingRun is one row of the run log.
type TrainingRun struct {
	RunID      string    `db:"run_id" json:"run_id"`
	ROCAUC     float64   `db:"roc_auc" json:"roc_auc"`
	Precision  float64   `db:"precision" json:"precision"`
	Recall     float64   `db:"recall" json:"recall"`
	F1         float64   `db:"f1" json:"f1"`
	DataPoints int       `db:"data_points" json:"data_points"`
	TrainedAt  time.Time `db:"trained_at" json:"trained_at"`
}

// TrainingRuns returns the run log, newest first.
func (s *Store) TrainingRuns(ctx context.Context) ([]TrainingRun, error) {
	runs := make([]TrainingRun, 0)
	err := s.db.SelectContext(ctx, &runs, `
        SELECT run_id, roc_auc, precision, recall, f1, data_points, trained_at
        FROM training_runs ORDER BY trained_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("load training runs: %w", err)
	}
	return runs, nil
}

func nullable(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
