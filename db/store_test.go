package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"farmcredit/ml"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), "creditworthy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSeedAndFetchTrainingRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seeded := ml.GenerateSyntheticRows(30, 7)
	if err := store.SeedTrainingRows(ctx, seeded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := store.FetchTrainingRows(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != len(seeded) {
		t.Fatalf("expected %d rows, got %d", len(seeded), len(rows))
	}

	positives := 0
	for _, row := range rows {
		if err := row.Profile.Validate(); err != nil {
			t.Fatalf("fetched invalid profile: %v", err)
		}
		if row.Profile.YieldKgPerAcre == nil || row.Profile.AdvisoryVisits == nil {
			t.Fatalf("expected optional fields to survive the round trip")
		}
		if row.Label == 1 {
			positives++
		}
	}
	wantPositives := 0
	for _, row := range seeded {
		if row.Label == 1 {
			wantPositives++
		}
	}
	if positives != wantPositives {
		t.Fatalf("expected %d positive labels, got %d", wantPositives, positives)
	}
}

func TestFetchDropsUnlabeledRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.SeedTrainingRows(ctx, ml.GenerateSyntheticRows(10, 3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A farmer with no credit score row must not appear in the training set.
	_, err := store.db.ExecContext(ctx, `
        INSERT INTO farmers (farmer_id, farm_size_acres, years_farming, crop_diversity,
            monthly_revenue, expense_ratio)
        VALUES ('unlabeled-1', 3.0, 5.0, 2, 1500.0, 0.5)`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := store.FetchTrainingRows(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("expected 10 labeled rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Profile.FarmerID == "unlabeled-1" {
			t.Fatalf("unlabeled farmer leaked into the training set")
		}
	}
}

func TestFetchIgnoresTransactionVolume(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.SeedTrainingRows(ctx, ml.GenerateSyntheticRows(10, 3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before, err := store.FetchTrainingRows(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Transaction records carry no feature column, so piling them on must
	// change neither the row count nor any fetched profile.
	for i := 0; i < 5; i++ {
		_, err := store.db.ExecContext(ctx, `
            INSERT INTO transactions (farmer_id, amount, type, status)
            VALUES (?, 120.0, 'sale', 'settled')`, before[0].Profile.FarmerID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	after, err := store.FetchTrainingRows(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("expected %d rows, got %d", len(before), len(after))
	}
	for i := range before {
		if after[i].Profile.FarmerID != before[i].Profile.FarmerID ||
			after[i].Profile.MonthlyRevenue != before[i].Profile.MonthlyRevenue ||
			after[i].Label != before[i].Label {
			t.Fatalf("row %d changed after inserting transactions", i)
		}
	}
}

func TestOpenRejectsBadTargetColumn(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "test.db"), "creditworthy; DROP TABLE farmers"); err == nil {
		t.Fatalf("expected error for a non-identifier target column")
	}
}

func TestSavePrediction(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	result := &ml.PredictionResult{Probability: 0.82, Uncertainty: 0.04, Approved: true}
	if err := store.SavePrediction(ctx, "farmer-9", result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	if err := store.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM predictions WHERE farmer_id = ?`, "farmer-9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 stored prediction, got %d", count)
	}
}

func TestRecordAndListTrainingRuns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	older := time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)
	metrics := &ml.EvaluationMetrics{ROCAUC: 0.91, Precision: 0.8, Recall: 0.75, F1: 0.77, Samples: 40}

	if err := store.RecordTrainingRun(ctx, "run-old", metrics, older); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.RecordTrainingRun(ctx, "run-new", metrics, newer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runs, err := store.TrainingRuns(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "run-new" {
		t.Fatalf("expected newest run first, got %q", runs[0].RunID)
	}
	if runs[0].ROCAUC != 0.91 || runs[0].DataPoints != 40 {
		t.Fatalf("unexpected run record: %+v", runs[0])
	}
}
