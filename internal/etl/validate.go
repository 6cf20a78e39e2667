package etl

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"propscout-engine/internal/domain"
)

// Report is the outcome of validating one raw listing. Rejected records
// never reach storage; flagged ones pass through with the violations
// recorded for scoring. Reports are ephemeral, logged but not persisted.
type Report struct {
	Rejected bool
	Reasons  []string // hard failures
	Flags    []string // soft range/format violations
}

var zipFormatRe = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// Validate applies field-level business rules to a raw listing. It is a pure
// function of its inputs: the same listing and clock always yield the same
// report.
func Validate(raw domain.RawListing, now time.Time) Report {
	var rep Report

	// hard rules: without an address there is nothing to fingerprint,
	// and without any price signal the record is useless downstream
	if strings.TrimSpace(raw.Field("street_address")) == "" {
		rep.Reasons = append(rep.Reasons, "missing street_address")
	}
	if strings.TrimSpace(raw.Field("city")) == "" && strings.TrimSpace(raw.Field("zip_code")) == "" {
		rep.Reasons = append(rep.Reasons, "missing both city and zip_code")
	}
	if strings.TrimSpace(raw.Field("price")) == "" && strings.TrimSpace(raw.Field("rent")) == "" {
		rep.Reasons = append(rep.Reasons, "missing both price and rent")
	}
	rep.Rejected = len(rep.Reasons) > 0

	// soft rules
	if cents, ok := ParsePrice(firstNonEmpty(raw.Field("price"), raw.Field("rent"))); ok && cents <= 0 {
		rep.Flags = append(rep.Flags, "price not positive")
	}
	if beds, ok := parseFloatField(raw.Field("bedrooms")); ok && (beds < 0 || beds > 20) {
		rep.Flags = append(rep.Flags, fmt.Sprintf("bedrooms %g outside [0,20]", beds))
	}
	if yb, ok := parseIntField(raw.Field("year_built")); ok && (yb < 1700 || yb > now.Year()+1) {
		rep.Flags = append(rep.Flags, fmt.Sprintf("year_built %d outside [1700,%d]", yb, now.Year()+1))
	}
	if zip := strings.TrimSpace(raw.Field("zip_code")); zip != "" && !zipFormatRe.MatchString(zip) {
		rep.Flags = append(rep.Flags, "zip_code format")
	}
	if raw.SourceURL != "" {
		if u, err := url.Parse(raw.SourceURL); err != nil || u.Scheme == "" || u.Host == "" {
			rep.Flags = append(rep.Flags, "malformed source url")
		}
	}

	return rep
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseFloatField(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func parseIntField(s string) (int, bool) {
	f, ok := parseFloatField(s)
	return int(f), ok
}
