package ml

import "testing"

func TestGenerateSyntheticRows(t *testing.T) {
	rows := GenerateSyntheticRows(200, 42)
	if len(rows) != 200 {
		t.Fatalf("expected 200 rows, got %d", len(rows))
	}

	positives := 0
	for _, row := range rows {
		if err := row.Profile.Validate(); err != nil {
			t.Fatalf("invalid synthetic profile: %v", err)
		}
		if row.Label == 1 {
			positives++
		}
	}
	// Top 30% of the composite risk score is labeled creditworthy.
	if positives < 40 || positives > 80 {
		t.Fatalf("expected roughly 30%% positives, got %d of 200", positives)
	}

	again := GenerateSyntheticRows(200, 42)
	for i := range rows {
		if rows[i].Label != again[i].Label ||
			rows[i].Profile.MonthlyRevenue != again[i].Profile.MonthlyRevenue {
			t.Fatalf("expected deterministic generation for a fixed seed")
		}
	}

	if got := GenerateSyntheticRows(0, 1); got != nil {
		t.Fatalf("expected nil for n=0, got %d rows", len(got))
	}
}
