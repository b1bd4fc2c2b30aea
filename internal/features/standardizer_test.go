package features

import (
	"math"
	"testing"
)

func TestTransformEmptyVectorReturnsNil(t *testing.T) {
	s := NewStandardizer(10)
	if got := s.Transform("AAPL", nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestTransformFirstSampleIsZero(t *testing.T) {
	s := NewStandardizer(10)
	out := s.Transform("AAPL", []float64{100, 0.5})
	for i, v := range out {
		if v != 0 {
			t.Fatalf("expected dimension %d to be 0 on first sample, got %v", i, v)
		}
	}
}

func TestTransformConstantSeriesStaysZero(t *testing.T) {
	s := NewStandardizer(5)
	var last []float64
	for i := 0; i < 10; i++ {
		last = s.Transform("AAPL", []float64{42})
	}
	if last[0] != 0 {
		t.Fatalf("expected z-score of 0 for a constant series (stdev below threshold), got %v", last[0])
	}
}

func TestTransformProducesNonZeroZScoreForOutlier(t *testing.T) {
	s := NewStandardizer(20)
	for i := 0; i < 10; i++ {
		s.Transform("AAPL", []float64{100})
	}
	out := s.Transform("AAPL", []float64{1000})
	if out[0] <= 0 {
		t.Fatalf("expected a large positive z-score for an outlier sample, got %v", out[0])
	}
}

func TestTransformResetsHistoryOnDimensionChange(t *testing.T) {
	s := NewStandardizer(10)
	s.Transform("AAPL", []float64{1, 2})
	out := s.Transform("AAPL", []float64{1, 2, 3})
	if len(out) != 3 {
		t.Fatalf("expected 3-dimension output after resize, got %d", len(out))
	}
	if out[0] != 0 {
		t.Fatalf("expected first sample after a dimension change to be 0, got %v", out[0])
	}
}

func TestTransformNonFiniteInputTreatedAsZero(t *testing.T) {
	s := NewStandardizer(10)
	s.Transform("AAPL", []float64{1})
	out := s.Transform("AAPL", []float64{math.NaN()})
	if len(out) != 1 {
		t.Fatalf("expected 1-dimension output, got %d", len(out))
	}
}

func TestTransformKeepsPerSymbolHistoryIndependent(t *testing.T) {
	s := NewStandardizer(20)
	for i := 0; i < 10; i++ {
		s.Transform("AAPL", []float64{100})
	}
	out := s.Transform("MSFT", []float64{500})
	if out[0] != 0 {
		t.Fatalf("expected MSFT's first sample to be unaffected by AAPL's history, got %v", out[0])
	}
}
