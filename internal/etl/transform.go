package etl

import (
	"regexp"
	"strings"

	"propscout-engine/internal/domain"
	"propscout-engine/internal/scrape/util"
)

var priceRe = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)

// ParsePrice turns messy price text ("$1,250,000", "1500/mo", "$950 - $1,200",
// "2,100 per month") into integer cents. Ranges take the low end.
func ParsePrice(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	// "per month" style suffixes and ranges: keep the leading figure
	if i := strings.Index(strings.ToLower(s), "per"); i >= 0 {
		s = s[:i]
	}
	m := priceRe.FindString(s)
	if m == "" {
		return 0, false
	}
	m = strings.ReplaceAll(m, ",", "")
	dollars := m
	cents := "00"
	if i := strings.IndexByte(m, '.'); i >= 0 {
		dollars = m[:i]
		frac := m[i+1:] + "00"
		cents = frac[:2]
	}
	var n int64
	for _, r := range dollars {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int64(r-'0')
	}
	var c int64
	for _, r := range cents {
		if r < '0' || r > '9' {
			return 0, false
		}
		c = c*10 + int64(r-'0')
	}
	return n*100 + c, true
}

// source-specific and free-text labels mapped to the canonical enum.
// Anything unmapped becomes "other".
var typeLabels = map[string]domain.PropertyType{
	"house":         domain.TypeHouse,
	"single":        domain.TypeHouse,
	"single family": domain.TypeHouse,
	"single-family": domain.TypeHouse,
	"condo":         domain.TypeCondo,
	"condominium":   domain.TypeCondo,
	"townhouse":     domain.TypeTownhouse,
	"townhome":      domain.TypeTownhouse,
	"apartment":     domain.TypeApartment,
	"multi":         domain.TypeMultiFamily,
	"multi_family":  domain.TypeMultiFamily,
	"multi-family":  domain.TypeMultiFamily,
	"duplex":        domain.TypeMultiFamily,
	"land":          domain.TypeLand,
	"lot":           domain.TypeLand,
	"commercial":    domain.TypeCommercial,
}

func MapPropertyType(label string) domain.PropertyType {
	l := strings.ToLower(util.CleanText(label))
	if l == "" {
		return domain.TypeOther
	}
	if t, ok := typeLabels[l]; ok {
		return t
	}
	for key, t := range typeLabels {
		if strings.Contains(l, key) {
			return t
		}
	}
	return domain.TypeOther
}

// Transform normalizes a validated raw listing into a canonical property
// candidate. The fingerprint is assigned later by the deduplicator; numeric
// fields stay nil when the source never reported them.
func Transform(raw domain.RawListing) domain.Property {
	p := domain.Property{
		Address:      util.CleanText(raw.Field("street_address")),
		City:         util.CleanText(raw.Field("city")),
		State:        util.NormalizeState(raw.Field("state")),
		ZipCode:      util.ExtractZip(raw.Field("zip_code")),
		CountryCode:  "US",
		PropertyType: MapPropertyType(raw.Field("property_type")),
		URL:          raw.SourceURL,
		Description:  util.CleanText(raw.Field("description")),
		Sources:      []domain.DataSource{raw.Source},
		ScrapedAt:    raw.ScrapedAt,
	}
	if p.URL == "" {
		p.URL = raw.Field("url")
	}

	if cents, ok := ParsePrice(firstNonEmpty(raw.Field("price"), raw.Field("rent"))); ok {
		p.Price = &cents
	}
	if v, ok := parseFloatField(raw.Field("square_feet")); ok {
		p.SquareFeet = &v
	}
	if v, ok := parseFloatField(raw.Field("lot_size")); ok {
		p.LotSize = &v
	}
	if v, ok := parseFloatField(raw.Field("bedrooms")); ok {
		p.Bedrooms = &v
	}
	if v, ok := parseFloatField(raw.Field("bathrooms")); ok {
		p.Bathrooms = &v
	}
	if v, ok := parseFloatField(raw.Field("stories")); ok {
		p.Stories = &v
	}
	if v, ok := parseIntField(raw.Field("year_built")); ok {
		p.YearBuilt = &v
	}
	if v, ok := parseFloatField(raw.Field("latitude")); ok {
		p.Latitude = &v
	}
	if v, ok := parseFloatField(raw.Field("longitude")); ok {
		p.Longitude = &v
	}

	if imgs := strings.TrimSpace(raw.Field("images")); imgs != "" {
		for _, img := range strings.Split(imgs, "|") {
			if img = strings.TrimSpace(img); img != "" {
				p.Images = append(p.Images, img)
			}
		}
	}

	features := map[string]string{}
	if amen := raw.Field("amenities"); amen != "" {
		features["amenities"] = util.CleanText(amen)
	}
	if name := raw.Field("building_name"); name != "" {
		features["building_name"] = util.CleanText(name)
	}
	if id := raw.Field("external_id"); id != "" {
		features[string(raw.Source)+"_id"] = id
	}
	if len(features) > 0 {
		p.Features = features
	}

	return p
}
