package domain

import "time"

type DataSource string

const (
	SourceRedfin     DataSource = "redfin"
	SourceZillow     DataSource = "zillow"
	SourceApartments DataSource = "apartments"
)

func (s DataSource) Valid() bool {
	switch s {
	case SourceRedfin, SourceZillow, SourceApartments:
		return true
	}
	return false
}

type PropertyType string

const (
	TypeHouse       PropertyType = "house"
	TypeApartment   PropertyType = "apartment"
	TypeCondo       PropertyType = "condo"
	TypeTownhouse   PropertyType = "townhouse"
	TypeMultiFamily PropertyType = "multi_family"
	TypeLand        PropertyType = "land"
	TypeCommercial  PropertyType = "commercial"
	TypeOther       PropertyType = "other"
)

// Property is the canonical, possibly multi-source-merged record as persisted.
// Numeric fields are pointers: absent means the source never reported the
// value, which is different from zero.
type Property struct {
	Fingerprint string `json:"fingerprint"`

	Price      *int64   `json:"price"` // smallest currency unit (cents)
	SquareFeet *float64 `json:"square_feet"`
	LotSize    *float64 `json:"lot_size"`
	Bedrooms   *float64 `json:"bedrooms"`
	Bathrooms  *float64 `json:"bathrooms"`
	Stories    *float64 `json:"stories"`
	YearBuilt  *int     `json:"year_built"`

	Address     string   `json:"address"`
	City        string   `json:"city"`
	State       string   `json:"state"`
	ZipCode     string   `json:"zip_code"`
	CountryCode string   `json:"country_code"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`

	PropertyType PropertyType      `json:"property_type"`
	URL          string            `json:"url"`
	Description  string            `json:"description"`
	Features     map[string]string `json:"features,omitempty"`
	Images       []string          `json:"images,omitempty"`

	Sources   []DataSource `json:"sources"`
	ScrapedAt time.Time    `json:"scraped_at"`

	QualityScore int  `json:"quality_score"`
	LowQuality   bool `json:"low_quality"`
}

// RawListing is an unprocessed record as extracted from one external source.
// Immutable once emitted by an adapter.
type RawListing struct {
	Source    DataSource        `json:"data_source"`
	SourceURL string            `json:"source_url"`
	Fields    map[string]string `json:"fields"`
	ScrapedAt time.Time         `json:"scraped_at"`
}

func (r RawListing) Field(key string) string {
	return r.Fields[key]
}

type SearchCriteria struct {
	Location      string   `json:"location"`
	MinPrice      int64    `json:"min_price,omitempty"` // dollars, as callers supply them
	MaxPrice      int64    `json:"max_price,omitempty"`
	Bedrooms      int      `json:"bedrooms,omitempty"` // minimum, 0 = any
	PropertyTypes []string `json:"property_types,omitempty"`
}
