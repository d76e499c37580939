package archive

import (
	"errors"
	"math"
	"testing"
)

func newTestArchive(t *testing.T) *GridArchive {
	t.Helper()

	seed := int64(7)
	a, err := NewGridArchive(2, []int{10, 10}, [][2]float64{{-1, 1}, {-1, 1}}, &seed)
	if err != nil {
		t.Fatalf("NewGridArchive failed: %v", err)
	}
	return a
}

func TestNewGridArchive_Validation(t *testing.T) {
	tests := []struct {
		name   string
		dim    int
		dims   []int
		ranges [][2]float64
	}{
		{"zero solution dim", 0, []int{2}, [][2]float64{{0, 1}}},
		{"no dims", 2, nil, nil},
		{"range count mismatch", 2, []int{2, 2}, [][2]float64{{0, 1}}},
		{"non-positive cells", 2, []int{0}, [][2]float64{{0, 1}}},
		{"inverted range", 2, []int{2}, [][2]float64{{1, 0}}},
		{"infinite range", 2, []int{2}, [][2]float64{{0, math.Inf(1)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGridArchive(tt.dim, tt.dims, tt.ranges, nil)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
		})
	}
}

func TestGridArchive_Index(t *testing.T) {
	a := newTestArchive(t)

	tests := []struct {
		behavior []float64
		expected int
	}{
		{[]float64{-1, -1}, 0},
		{[]float64{-0.95, -0.75}, 1},
		{[]float64{1, 1}, 99},
		{[]float64{5, -5}, 90}, // clipped
		{[]float64{0, 0}, 55},
		{[]float64{2, 2}, 99},
		{[]float64{1e300, 1e300}, 99},
		{[]float64{-1e300, 1e300}, 9},
		{[]float64{math.Inf(1), math.Inf(1)}, 99},
		{[]float64{math.Inf(1), math.Inf(-1)}, 90},
	}

	for _, tt := range tests {
		idx, err := a.Index(tt.behavior)
		if err != nil {
			t.Fatalf("Index(%v) failed: %v", tt.behavior, err)
		}
		if idx != tt.expected {
			t.Errorf("Index(%v) = %d, expected %d", tt.behavior, idx, tt.expected)
		}
	}

	if _, err := a.Index([]float64{0}); err == nil {
		t.Error("Expected error for wrong behavior length")
	}
	if _, err := a.Index([]float64{math.NaN(), 0}); err == nil {
		t.Error("Expected error for NaN behavior")
	}
}

func TestGridArchive_AddStatuses(t *testing.T) {
	a := newTestArchive(t)
	beh := []float64{0.1, 0.1}

	res, err := a.Add([]float64{1, 2}, 5, beh, nil)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if res.Status != New || res.Value != 5 {
		t.Errorf("Expected New with value 5, got %s with value %f", res.Status, res.Value)
	}

	res, _ = a.Add([]float64{3, 4}, 8, beh, "meta")
	if res.Status != ImproveExisting || res.Value != 3 {
		t.Errorf("Expected ImproveExisting with value 3, got %s with value %f", res.Status, res.Value)
	}

	res, _ = a.Add([]float64{5, 6}, 6, beh, nil)
	if res.Status != NotAdded || res.Value != -2 {
		t.Errorf("Expected NotAdded with value -2, got %s with value %f", res.Status, res.Value)
	}

	res, _ = a.Add([]float64{5, 6}, 8, beh, nil)
	if res.Status != NotAdded {
		t.Errorf("Equal objective should not replace incumbent, got %s", res.Status)
	}

	elite, ok := a.Elite(res.Index)
	if !ok {
		t.Fatal("Expected elite at index")
	}
	if elite.Objective != 8 || elite.Solution[0] != 3 || elite.Metadata != "meta" {
		t.Errorf("Unexpected elite: %+v", elite)
	}
}

func TestGridArchive_AddRejectsBadSolution(t *testing.T) {
	a := newTestArchive(t)
	if _, err := a.Add([]float64{1}, 1, []float64{0, 0}, nil); err == nil {
		t.Error("Expected error for wrong solution length")
	}
}

func TestGridArchive_RandomElite(t *testing.T) {
	a := newTestArchive(t)

	if _, err := a.RandomElite(); !errors.Is(err, ErrEmptyArchive) {
		t.Fatalf("Expected ErrEmptyArchive, got %v", err)
	}

	a.Add([]float64{1, 1}, 1, []float64{-0.9, -0.9}, nil)
	a.Add([]float64{2, 2}, 2, []float64{0.9, 0.9}, nil)

	seen := map[float64]bool{}
	for i := 0; i < 50; i++ {
		e, err := a.RandomElite()
		if err != nil {
			t.Fatalf("RandomElite failed: %v", err)
		}
		seen[e.Objective] = true
	}
	if len(seen) != 2 {
		t.Errorf("Expected both elites to be sampled, saw %v", seen)
	}

	// Returned elites are copies.
	e, _ := a.RandomElite()
	e.Solution[0] = 100
	for _, stored := range a.Elites() {
		if stored.Solution[0] == 100 {
			t.Error("RandomElite returned an alias of archive storage")
		}
	}
}

func TestGridArchive_Stats(t *testing.T) {
	a := newTestArchive(t)

	stats := a.Stats()
	if stats.NumElites != 0 || stats.Coverage != 0 || stats.QDScore != 0 {
		t.Errorf("Expected empty stats, got %+v", stats)
	}

	a.Add([]float64{1, 1}, 3, []float64{-0.9, -0.9}, nil)
	a.Add([]float64{2, 2}, 4, []float64{0.9, 0.9}, nil)

	stats = a.Stats()
	if stats.NumElites != 2 {
		t.Errorf("Expected 2 elites, got %d", stats.NumElites)
	}
	if stats.Coverage != 0.02 {
		t.Errorf("Expected coverage 0.02, got %f", stats.Coverage)
	}
	if stats.QDScore != 7 {
		t.Errorf("Expected QD score 7, got %f", stats.QDScore)
	}
	if stats.BestObjective != 4 {
		t.Errorf("Expected best objective 4, got %f", stats.BestObjective)
	}
}

func TestGridArchive_Restore(t *testing.T) {
	a := newTestArchive(t)
	a.Add([]float64{1, 1}, 3, []float64{-0.9, -0.9}, nil)
	a.Add([]float64{2, 2}, 4, []float64{0.9, 0.9}, nil)
	elites := a.Elites()

	b := newTestArchive(t)
	b.Add([]float64{9, 9}, 1, []float64{0, 0}, nil)
	if err := b.Restore(elites); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if b.Stats() != a.Stats() {
		t.Errorf("Restored stats %+v differ from original %+v", b.Stats(), a.Stats())
	}
}
