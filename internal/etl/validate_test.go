package etl

import (
	"strings"
	"testing"
	"time"

	"propscout-engine/internal/domain"
)

func rawWith(fields map[string]string) domain.RawListing {
	return domain.RawListing{
		Source:    domain.SourceRedfin,
		SourceURL: "https://www.redfin.com/CA/test/home/1",
		Fields:    fields,
		ScrapedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestValidateHardRules(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		fields     map[string]string
		wantReject bool
		wantReason string
	}{
		{
			name: "complete record passes",
			fields: map[string]string{
				"street_address": "123 Main St", "city": "Austin",
				"zip_code": "78701", "price": "450000",
			},
			wantReject: false,
		},
		{
			name: "missing street address",
			fields: map[string]string{
				"city": "Austin", "zip_code": "78701", "price": "450000",
			},
			wantReject: true,
			wantReason: "street_address",
		},
		{
			name: "zip alone satisfies the location rule",
			fields: map[string]string{
				"street_address": "123 Main St", "zip_code": "78701", "price": "450000",
			},
			wantReject: false,
		},
		{
			name: "city and zip both missing",
			fields: map[string]string{
				"street_address": "123 Main St", "price": "450000",
			},
			wantReject: true,
			wantReason: "city and zip_code",
		},
		{
			name: "rent satisfies the price rule",
			fields: map[string]string{
				"street_address": "123 Main St", "city": "Austin", "rent": "$1,850/mo",
			},
			wantReject: false,
		},
		{
			name: "price and rent both missing",
			fields: map[string]string{
				"street_address": "123 Main St", "city": "Austin",
			},
			wantReject: true,
			wantReason: "price and rent",
		},
	}

	for _, tt := range tests {
		rep := Validate(rawWith(tt.fields), now)
		if rep.Rejected != tt.wantReject {
			t.Errorf("%s: rejected = %v, want %v (reasons: %v)",
				tt.name, rep.Rejected, tt.wantReject, rep.Reasons)
			continue
		}
		if tt.wantReason != "" && !strings.Contains(strings.Join(rep.Reasons, "; "), tt.wantReason) {
			t.Errorf("%s: reasons %v do not mention %q", tt.name, rep.Reasons, tt.wantReason)
		}
	}
}

func TestValidateSoftRulesDoNotReject(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	raw := rawWith(map[string]string{
		"street_address": "123 Main St",
		"city":           "Austin",
		"price":          "450000",
		"bedrooms":       "45",
		"year_built":     "1492",
		"zip_code":       "ABCDE",
	})

	rep := Validate(raw, now)
	if rep.Rejected {
		t.Fatalf("soft violations must not reject; reasons: %v", rep.Reasons)
	}
	if len(rep.Flags) < 3 {
		t.Errorf("expected flags for bedrooms, year_built and zip_code, got %v", rep.Flags)
	}
}

func TestValidateFutureYearBuilt(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fields := map[string]string{
		"street_address": "123 Main St", "city": "Austin", "price": "450000",
	}

	// next year is allowed for new construction
	fields["year_built"] = "2027"
	if rep := Validate(rawWith(fields), now); len(rep.Flags) != 0 {
		t.Errorf("year_built=2027 should pass in 2026, flags: %v", rep.Flags)
	}

	fields["year_built"] = "2031"
	if rep := Validate(rawWith(fields), now); len(rep.Flags) == 0 {
		t.Errorf("year_built=2031 should be flagged in 2026")
	}
}

func TestValidateDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	raw := rawWith(map[string]string{
		"street_address": "123 Main St", "city": "Austin", "price": "450000",
	})

	first := Validate(raw, now)
	for i := 0; i < 10; i++ {
		again := Validate(raw, now)
		if again.Rejected != first.Rejected ||
			strings.Join(again.Reasons, ";") != strings.Join(first.Reasons, ";") ||
			strings.Join(again.Flags, ";") != strings.Join(first.Flags, ";") {
			t.Fatalf("validation not deterministic: %+v vs %+v", first, again)
		}
	}
}
