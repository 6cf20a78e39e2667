package etl

import (
	"testing"

	"propscout-engine/internal/domain"
)

func fullProperty() domain.Property {
	return domain.Property{
		Address:     "123 Main St",
		City:        "Austin",
		State:       "TX",
		ZipCode:     "78701",
		Price:       i64(45000000),
		SquareFeet:  f64(1850),
		Bedrooms:    f64(3),
		Bathrooms:   f64(2),
		Description: "Charming bungalow",
		Images:      []string{"a.jpg"},
	}
}

func TestScoreFullRecordIsHundred(t *testing.T) {
	w := DefaultWeights()
	if got := w.Score(fullProperty()); got != 100 {
		t.Errorf("full record: got %d, want 100", got)
	}
}

func TestScoreEmptyRecordIsZero(t *testing.T) {
	w := DefaultWeights()
	if got := w.Score(domain.Property{}); got != 0 {
		t.Errorf("empty record: got %d, want 0", got)
	}
}

func TestScoreDeterministic(t *testing.T) {
	w := DefaultWeights()
	p := fullProperty()
	p.Images = nil
	first := w.Score(p)
	for i := 0; i < 10; i++ {
		if again := w.Score(p); again != first {
			t.Fatalf("score changed between calls: %d vs %d", first, again)
		}
	}
}

func TestScoreMonotonic(t *testing.T) {
	w := DefaultWeights()

	p := domain.Property{Address: "123 Main St"}
	prev := w.Score(p)

	steps := []func(*domain.Property){
		func(p *domain.Property) { p.City = "Austin" },
		func(p *domain.Property) { p.State = "TX" },
		func(p *domain.Property) { p.ZipCode = "78701" },
		func(p *domain.Property) { p.Price = i64(45000000) },
		func(p *domain.Property) { p.SquareFeet = f64(1850) },
		func(p *domain.Property) { p.Bedrooms = f64(3) },
		func(p *domain.Property) { p.Bathrooms = f64(2) },
		func(p *domain.Property) { p.Description = "desc" },
		func(p *domain.Property) { p.Images = []string{"a.jpg"} },
	}
	for i, fill := range steps {
		fill(&p)
		got := w.Score(p)
		if got < prev {
			t.Errorf("step %d: filling a field lowered the score %d -> %d", i, prev, got)
		}
		prev = got
	}
	if prev != 100 {
		t.Errorf("all fields filled: got %d, want 100", prev)
	}
}

func TestScoreLotSizeCountsAsSize(t *testing.T) {
	w := DefaultWeights()
	withSqft := fullProperty()

	withLot := fullProperty()
	withLot.SquareFeet = nil
	withLot.LotSize = f64(8000)

	if w.Score(withSqft) != w.Score(withLot) {
		t.Errorf("lot size should satisfy the size weight like square feet")
	}
}

func TestScoreZeroWeightsTable(t *testing.T) {
	var w Weights
	if got := w.Score(fullProperty()); got != 0 {
		t.Errorf("zero weight table: got %d, want 0", got)
	}
}
