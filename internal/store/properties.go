package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"propscout-engine/internal/domain"
)

// Properties is the SQLite-backed property store. The fingerprint is the
// upsert key, so re-loading an identical record is a no-op write.
type Properties struct {
	DB *sql.DB
}

func (s *Properties) UpsertProperty(ctx context.Context, p domain.Property) (int64, error) {
	if p.Fingerprint == "" {
		return 0, errors.New("property missing fingerprint")
	}
	featuresB, imagesB, sourcesB := encodeAttrs(p)

	_, err := s.DB.ExecContext(ctx, `
INSERT INTO properties (
  fingerprint, price, square_feet, lot_size, bedrooms, bathrooms, stories,
  year_built, address, city, state, zip_code, country_code, latitude,
  longitude, property_type, url, description, features, images, sources,
  scraped_at, quality_score, low_quality
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(fingerprint) DO UPDATE SET
  price=excluded.price, square_feet=excluded.square_feet,
  lot_size=excluded.lot_size, bedrooms=excluded.bedrooms,
  bathrooms=excluded.bathrooms, stories=excluded.stories,
  year_built=excluded.year_built, address=excluded.address,
  city=excluded.city, state=excluded.state, zip_code=excluded.zip_code,
  country_code=excluded.country_code, latitude=excluded.latitude,
  longitude=excluded.longitude, property_type=excluded.property_type,
  url=excluded.url, description=excluded.description,
  features=excluded.features, images=excluded.images,
  sources=excluded.sources, scraped_at=excluded.scraped_at,
  quality_score=excluded.quality_score, low_quality=excluded.low_quality;`,
		p.Fingerprint, nullInt64(p.Price), nullFloat(p.SquareFeet),
		nullFloat(p.LotSize), nullFloat(p.Bedrooms), nullFloat(p.Bathrooms),
		nullFloat(p.Stories), nullInt(p.YearBuilt), p.Address, p.City,
		p.State, p.ZipCode, p.CountryCode, nullFloat(p.Latitude),
		nullFloat(p.Longitude), string(p.PropertyType), p.URL, p.Description,
		string(featuresB), string(imagesB), string(sourcesB),
		p.ScrapedAt.UTC().Format(time.RFC3339), p.QualityScore, boolToInt(p.LowQuality),
	)
	if err != nil {
		return 0, fmt.Errorf("upsert property: %w", err)
	}

	var rowID int64
	err = s.DB.QueryRowContext(ctx,
		`SELECT rowid FROM properties WHERE fingerprint = ?;`, p.Fingerprint).Scan(&rowID)
	if err != nil {
		return 0, fmt.Errorf("upsert property id: %w", err)
	}
	return rowID, nil
}

func (s *Properties) FindByFingerprint(ctx context.Context, fingerprint string) (*domain.Property, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+propertyColumns+`
FROM properties WHERE fingerprint = ?;`, fingerprint)

	p, err := scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListOpts filters property listings for the read API. Low-quality rows are
// excluded by default without being lost.
type ListOpts struct {
	IncludeLowQuality bool
	City              string
	State             string
	Limit             int
}

func (s *Properties) ListProperties(ctx context.Context, opts ListOpts) ([]domain.Property, error) {
	if opts.Limit <= 0 || opts.Limit > 1000 {
		opts.Limit = 200
	}

	q := `SELECT ` + propertyColumns + ` FROM properties WHERE 1=1`
	var args []any
	if !opts.IncludeLowQuality {
		q += ` AND low_quality = 0`
	}
	if opts.City != "" {
		q += ` AND city = ?`
		args = append(args, opts.City)
	}
	if opts.State != "" {
		q += ` AND state = ?`
		args = append(args, opts.State)
	}
	q += ` ORDER BY quality_score DESC, fingerprint LIMIT ?;`
	args = append(args, opts.Limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const propertyColumns = `fingerprint, price, square_feet, lot_size, bedrooms,
  bathrooms, stories, year_built, address, city, state, zip_code,
  country_code, latitude, longitude, property_type, url, description,
  features, images, sources, scraped_at, quality_score, low_quality`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProperty(row rowScanner) (*domain.Property, error) {
	var (
		p                            domain.Property
		price                        sql.NullInt64
		sqft, lot, beds, baths, st   sql.NullFloat64
		yearBuilt                    sql.NullInt64
		lat, lng                     sql.NullFloat64
		ptype                        string
		featuresJS, imagesJS, srcsJS string
		scrapedAt                    string
		lowQuality                   int
	)
	err := row.Scan(&p.Fingerprint, &price, &sqft, &lot, &beds, &baths, &st,
		&yearBuilt, &p.Address, &p.City, &p.State, &p.ZipCode, &p.CountryCode,
		&lat, &lng, &ptype, &p.URL, &p.Description, &featuresJS, &imagesJS,
		&srcsJS, &scrapedAt, &p.QualityScore, &lowQuality)
	if err != nil {
		return nil, err
	}

	p.Price = fromNullInt64(price)
	p.SquareFeet = fromNullFloat(sqft)
	p.LotSize = fromNullFloat(lot)
	p.Bedrooms = fromNullFloat(beds)
	p.Bathrooms = fromNullFloat(baths)
	p.Stories = fromNullFloat(st)
	if yearBuilt.Valid {
		v := int(yearBuilt.Int64)
		p.YearBuilt = &v
	}
	p.Latitude = fromNullFloat(lat)
	p.Longitude = fromNullFloat(lng)
	p.PropertyType = domain.PropertyType(ptype)
	p.LowQuality = lowQuality != 0
	_ = json.Unmarshal([]byte(featuresJS), &p.Features)
	_ = json.Unmarshal([]byte(imagesJS), &p.Images)
	_ = json.Unmarshal([]byte(srcsJS), &p.Sources)
	p.ScrapedAt, _ = time.Parse(time.RFC3339, scrapedAt)
	return &p, nil
}

func encodeAttrs(p domain.Property) (features, images, sources []byte) {
	features, _ = json.Marshal(p.Features)
	if p.Features == nil {
		features = []byte("{}")
	}
	images, _ = json.Marshal(p.Images)
	if p.Images == nil {
		images = []byte("[]")
	}
	sources, _ = json.Marshal(p.Sources)
	if p.Sources == nil {
		sources = []byte("[]")
	}
	return features, images, sources
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
