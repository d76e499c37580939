package bench

import (
	"math"
	"testing"
)

func TestNew(t *testing.T) {
	if _, err := New("sphere", 4); err != nil {
		t.Errorf("Expected sphere benchmark, got error %v", err)
	}
	if _, err := New("rastrigin", 10); err != nil {
		t.Errorf("Expected rastrigin benchmark, got error %v", err)
	}
	if _, err := New("ackley", 4); err == nil {
		t.Error("Expected error for unknown benchmark")
	}
	if _, err := New("sphere", 1); err == nil {
		t.Error("Expected error for dimension below 2")
	}
}

func TestEvaluate_ObjectiveRange(t *testing.T) {
	for _, name := range []string{"sphere", "rastrigin"} {
		t.Run(name, func(t *testing.T) {
			b, _ := New(name, 4)
			optimum := []float64{2.048, 2.048, 2.048, 2.048}
			corner := []float64{-5.12, -5.12, -5.12, -5.12}

			objs, behs := b.Evaluate([][]float64{optimum, corner})

			if math.Abs(objs[0]-100) > 1e-9 {
				t.Errorf("Expected objective 100 at the optimum, got %f", objs[0])
			}
			if math.Abs(objs[1]) > 1e-9 {
				t.Errorf("Expected objective 0 at the worst corner, got %f", objs[1])
			}
			if len(behs) != 2 || len(behs[0]) != 2 {
				t.Fatalf("Expected two 2-d behaviors, got %v", behs)
			}
		})
	}
}

func TestEvaluate_Behavior(t *testing.T) {
	b, _ := New("sphere", 4)

	_, behs := b.Evaluate([][]float64{{1, 2, 3, 4}, {10, 0, 0, -10.24}})

	if behs[0][0] != 3 || behs[0][1] != 7 {
		t.Errorf("Expected behavior [3 7], got %v", behs[0])
	}
	// Out-of-domain coordinates fold back: 5.12/10 = 0.512, 5.12/-10.24 = -0.5
	if math.Abs(behs[1][0]-0.512) > 1e-12 || math.Abs(behs[1][1]+0.5) > 1e-12 {
		t.Errorf("Expected behavior [0.512 -0.5], got %v", behs[1])
	}
}

func TestBehaviorRanges(t *testing.T) {
	b, _ := New("sphere", 5)
	ranges := b.BehaviorRanges()

	if ranges[0][0] != -10.24 || ranges[0][1] != 10.24 {
		t.Errorf("Expected first range [-10.24, 10.24], got %v", ranges[0])
	}
	if math.Abs(ranges[1][1]-15.36) > 1e-12 {
		t.Errorf("Expected second range upper 15.36, got %v", ranges[1])
	}
}
