package etl

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"propscout-engine/internal/domain"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("123 Market St", "San Francisco", "CA", "94102")
	b := Fingerprint("123 Market St", "San Francisco", "CA", "94102")
	if a != b {
		t.Errorf("same address produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length: got %d, want 64 hex chars", len(a))
	}
}

func TestFingerprintNormalization(t *testing.T) {
	base := Fingerprint("123 Market St", "San Francisco", "CA", "94102")

	same := []struct {
		name                     string
		street, city, state, zip string
	}{
		{"suffix spelled out", "123 Market Street", "San Francisco", "CA", "94102"},
		{"upper case", "123 MARKET ST", "SAN FRANCISCO", "CA", "94102"},
		{"extra whitespace", "  123  Market   St ", "San Francisco", "CA", " 94102 "},
	}
	for _, tt := range same {
		if got := Fingerprint(tt.street, tt.city, tt.state, tt.zip); got != base {
			t.Errorf("%s: fingerprint differs from canonical form", tt.name)
		}
	}

	diff := []struct {
		name                     string
		street, city, state, zip string
	}{
		{"different zip", "123 Market St", "San Francisco", "CA", "94103"},
		{"different number", "125 Market St", "San Francisco", "CA", "94102"},
		{"different city", "123 Market St", "Oakland", "CA", "94102"},
	}
	for _, tt := range diff {
		if got := Fingerprint(tt.street, tt.city, tt.state, tt.zip); got == base {
			t.Errorf("%s: fingerprint should differ", tt.name)
		}
	}
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func TestMergeFillsMissingFields(t *testing.T) {
	older := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	a := domain.Property{
		Address:   "123 Market St",
		City:      "San Francisco",
		Price:     i64(120000000),
		Bedrooms:  nil,
		Sources:   []domain.DataSource{domain.SourceRedfin},
		ScrapedAt: older,
	}
	b := domain.Property{
		Address:   "123 Market St",
		City:      "San Francisco",
		Price:     nil,
		Bedrooms:  f64(3),
		Sources:   []domain.DataSource{domain.SourceZillow},
		ScrapedAt: newer,
	}

	m := Merge(a, b)
	if m.Price == nil || *m.Price != 120000000 {
		t.Errorf("price should survive from the only record carrying it")
	}
	if m.Bedrooms == nil || *m.Bedrooms != 3 {
		t.Errorf("bedrooms should survive from the only record carrying it")
	}
	want := []domain.DataSource{domain.SourceRedfin, domain.SourceZillow}
	if !reflect.DeepEqual(m.Sources, want) {
		t.Errorf("sources: got %v, want %v", m.Sources, want)
	}
	if !m.ScrapedAt.Equal(newer) {
		t.Errorf("scraped_at should be the max of both records")
	}
}

func TestMergeNewerWinsConflicts(t *testing.T) {
	older := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	a := domain.Property{Price: i64(100), Description: "old", ScrapedAt: older,
		Sources: []domain.DataSource{domain.SourceRedfin}}
	b := domain.Property{Price: i64(200), Description: "new", ScrapedAt: newer,
		Sources: []domain.DataSource{domain.SourceZillow}}

	m := Merge(a, b)
	if *m.Price != 200 {
		t.Errorf("price conflict: got %d, want the newer 200", *m.Price)
	}
	if m.Description != "new" {
		t.Errorf("description conflict: got %q, want the newer", m.Description)
	}
}

func TestMergeCommutative(t *testing.T) {
	older := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	a := domain.Property{
		Address: "123 Market St", Price: i64(100), Bedrooms: f64(2),
		Images:    []string{"a.jpg"},
		Sources:   []domain.DataSource{domain.SourceRedfin},
		ScrapedAt: older,
	}
	b := domain.Property{
		Address: "123 Market St", Price: i64(200), Bathrooms: f64(1.5),
		Images:    []string{"b.jpg"},
		Sources:   []domain.DataSource{domain.SourceZillow},
		ScrapedAt: older.Add(time.Minute),
	}

	ab := Merge(a, b)
	ba := Merge(b, a)
	if !reflect.DeepEqual(ab, ba) {
		t.Errorf("merge not commutative:\n a,b: %+v\n b,a: %+v", ab, ba)
	}
}

func TestMergeAssociative(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	a := domain.Property{
		Address: "123 Market St", Price: i64(100),
		Images:    []string{"a.jpg"},
		Sources:   []domain.DataSource{domain.SourceRedfin},
		ScrapedAt: base,
	}
	b := domain.Property{
		Address: "123 Market St", Price: i64(200), Bedrooms: f64(3),
		Images:    []string{"b.jpg"},
		Sources:   []domain.DataSource{domain.SourceZillow},
		ScrapedAt: base.Add(time.Hour),
	}
	c := domain.Property{
		Address: "123 Market St", Bathrooms: f64(2), Description: "latest",
		Sources:   []domain.DataSource{domain.SourceApartments},
		ScrapedAt: base.Add(2 * time.Hour),
	}

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))
	if !reflect.DeepEqual(left, right) {
		t.Errorf("merge not associative:\n (ab)c: %+v\n a(bc): %+v", left, right)
	}
	if *left.Price != 200 || left.Description != "latest" {
		t.Errorf("field winners wrong: price=%d desc=%q", *left.Price, left.Description)
	}
}

func TestMergeCommutativeTimestampTie(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	a := domain.Property{Description: "from redfin", ScrapedAt: at,
		Sources: []domain.DataSource{domain.SourceRedfin}}
	b := domain.Property{Description: "from zillow", ScrapedAt: at,
		Sources: []domain.DataSource{domain.SourceZillow}}

	ab := Merge(a, b)
	ba := Merge(b, a)
	if !reflect.DeepEqual(ab, ba) {
		t.Errorf("tie-break not order independent:\n a,b: %+v\n b,a: %+v", ab, ba)
	}
	// apartments < redfin < zillow; the smaller source name wins ties
	if ab.Description != "from redfin" {
		t.Errorf("tie winner: got %q, want the redfin record", ab.Description)
	}
}

func TestMergeSameSourceTimestampTie(t *testing.T) {
	// duplicate cards for one address on a single page share the page-level
	// scrape time and the source, so the tie must still resolve one way
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	a := domain.Property{
		Address: "123 Market St", Price: i64(100), Description: "first card",
		Sources:   []domain.DataSource{domain.SourceRedfin},
		ScrapedAt: at,
	}
	b := domain.Property{
		Address: "123 Market St", Price: i64(200), Description: "second card",
		Sources:   []domain.DataSource{domain.SourceRedfin},
		ScrapedAt: at,
	}

	ab := Merge(a, b)
	ba := Merge(b, a)
	if !reflect.DeepEqual(ab, ba) {
		t.Errorf("same-source tie not order independent:\n a,b: %+v\n b,a: %+v", ab, ba)
	}
}

func TestMergeCommutativeRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sources := []domain.DataSource{
		domain.SourceRedfin, domain.SourceZillow, domain.SourceApartments,
	}

	randomProp := func(src domain.DataSource) domain.Property {
		p := domain.Property{
			Address:   "123 Market St",
			ScrapedAt: base.Add(time.Duration(rng.Intn(3)) * time.Hour),
			Sources:   []domain.DataSource{src},
		}
		if rng.Intn(2) == 0 {
			p.Price = i64(int64(rng.Intn(1000)) * 100)
		}
		if rng.Intn(2) == 0 {
			p.Bedrooms = f64(float64(rng.Intn(5)))
		}
		if rng.Intn(2) == 0 {
			p.Description = "filled"
		}
		if rng.Intn(2) == 0 {
			p.Images = []string{"x.jpg", "y.jpg"}
		}
		return p
	}

	for i := 0; i < 200; i++ {
		a := randomProp(sources[rng.Intn(len(sources))])
		b := randomProp(sources[rng.Intn(len(sources))])
		ab := Merge(a, b)
		ba := Merge(b, a)
		if !reflect.DeepEqual(ab, ba) {
			t.Fatalf("iteration %d: merge not commutative\n a: %+v\n b: %+v\n a,b: %+v\n b,a: %+v",
				i, a, b, ab, ba)
		}
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var km KeyedMutex
	const key = "fingerprint-x"
	const workers = 8
	const iterations = 500

	counter := 0
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for j := 0; j < iterations; j++ {
				km.Lock(key)
				counter++
				km.Unlock(key)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}
	if counter != workers*iterations {
		t.Errorf("lost updates under keyed lock: got %d, want %d", counter, workers*iterations)
	}
}
