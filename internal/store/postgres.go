package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"propscout-engine/internal/domain"
)

// PostgresProperties is the Postgres-backed property store, for deployments
// where the engine feeds a shared database instead of a local file.
type PostgresProperties struct {
	db *sql.DB
}

// OpenPostgres connects and migrates the properties table. The database may
// still be starting when the engine comes up, so the ping retries.
func OpenPostgres(dsn string) (*PostgresProperties, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pp := &PostgresProperties{db: db}
	if err := pp.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return pp, nil
}

func (pp *PostgresProperties) migrate() error {
	_, err := pp.db.Exec(`
		CREATE TABLE IF NOT EXISTS properties (
			id            BIGSERIAL,
			fingerprint   TEXT PRIMARY KEY,
			price         BIGINT,
			square_feet   DOUBLE PRECISION,
			lot_size      DOUBLE PRECISION,
			bedrooms      DOUBLE PRECISION,
			bathrooms     DOUBLE PRECISION,
			stories       DOUBLE PRECISION,
			year_built    INTEGER,
			address       TEXT NOT NULL DEFAULT '',
			city          TEXT NOT NULL DEFAULT '',
			state         TEXT NOT NULL DEFAULT '',
			zip_code      TEXT NOT NULL DEFAULT '',
			country_code  TEXT NOT NULL DEFAULT '',
			latitude      DOUBLE PRECISION,
			longitude     DOUBLE PRECISION,
			property_type TEXT NOT NULL DEFAULT 'other',
			url           TEXT NOT NULL DEFAULT '',
			description   TEXT NOT NULL DEFAULT '',
			features      TEXT NOT NULL DEFAULT '{}',
			images        TEXT NOT NULL DEFAULT '[]',
			sources       TEXT NOT NULL DEFAULT '[]',
			scraped_at    TIMESTAMPTZ NOT NULL,
			quality_score INTEGER NOT NULL DEFAULT 0,
			low_quality   BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE INDEX IF NOT EXISTS idx_properties_city_state  ON properties(city, state);
		CREATE INDEX IF NOT EXISTS idx_properties_low_quality ON properties(low_quality);
	`)
	return err
}

func (pp *PostgresProperties) UpsertProperty(ctx context.Context, p domain.Property) (int64, error) {
	if p.Fingerprint == "" {
		return 0, errors.New("property missing fingerprint")
	}
	featuresB, imagesB, sourcesB := encodeAttrs(p)

	var rowID int64
	err := pp.db.QueryRowContext(ctx, `
		INSERT INTO properties (
			fingerprint, price, square_feet, lot_size, bedrooms, bathrooms,
			stories, year_built, address, city, state, zip_code, country_code,
			latitude, longitude, property_type, url, description, features,
			images, sources, scraped_at, quality_score, low_quality
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		ON CONFLICT (fingerprint) DO UPDATE SET
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
			quality_score=excluded.quality_score, low_quality=excluded.low_quality
		RETURNING id;`,
		p.Fingerprint, nullInt64(p.Price), nullFloat(p.SquareFeet),
		nullFloat(p.LotSize), nullFloat(p.Bedrooms), nullFloat(p.Bathrooms),
		nullFloat(p.Stories), nullInt(p.YearBuilt), p.Address, p.City,
		p.State, p.ZipCode, p.CountryCode, nullFloat(p.Latitude),
		nullFloat(p.Longitude), string(p.PropertyType), p.URL, p.Description,
		string(featuresB), string(imagesB), string(sourcesB),
		p.ScrapedAt.UTC(), p.QualityScore, p.LowQuality,
	).Scan(&rowID)
	if err != nil {
		return 0, fmt.Errorf("postgres: upsert property: %w", err)
	}
	return rowID, nil
}

func (pp *PostgresProperties) FindByFingerprint(ctx context.Context, fingerprint string) (*domain.Property, error) {
	row := pp.db.QueryRowContext(ctx, `
		SELECT `+propertyColumns+`
		FROM properties WHERE fingerprint = $1;`, fingerprint)

	p, err := scanPostgresProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (pp *PostgresProperties) ListProperties(ctx context.Context, opts ListOpts) ([]domain.Property, error) {
	if opts.Limit <= 0 || opts.Limit > 1000 {
		opts.Limit = 200
	}

	q := `SELECT ` + propertyColumns + ` FROM properties WHERE TRUE`
	var args []any
	if !opts.IncludeLowQuality {
		q += ` AND low_quality = FALSE`
	}
	if opts.City != "" {
		args = append(args, opts.City)
		q += fmt.Sprintf(` AND city = $%d`, len(args))
	}
	if opts.State != "" {
		args = append(args, opts.State)
		q += fmt.Sprintf(` AND state = $%d`, len(args))
	}
	args = append(args, opts.Limit)
	q += fmt.Sprintf(` ORDER BY quality_score DESC, fingerprint LIMIT $%d;`, len(args))

	rows, err := pp.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Property
	for rows.Next() {
		p, err := scanPostgresProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// scanPostgresProperty mirrors scanProperty but reads native timestamp and
// boolean columns instead of sqlite's TEXT/INTEGER encodings.
func scanPostgresProperty(row rowScanner) (*domain.Property, error) {
	var (
		p                            domain.Property
		price                        sql.NullInt64
		sqft, lot, beds, baths, st   sql.NullFloat64
		yearBuilt                    sql.NullInt64
		lat, lng                     sql.NullFloat64
		ptype                        string
		featuresJS, imagesJS, srcsJS string
	)
	err := row.Scan(&p.Fingerprint, &price, &sqft, &lot, &beds, &baths, &st,
		&yearBuilt, &p.Address, &p.City, &p.State, &p.ZipCode, &p.CountryCode,
		&lat, &lng, &ptype, &p.URL, &p.Description, &featuresJS, &imagesJS,
		&srcsJS, &p.ScrapedAt, &p.QualityScore, &p.LowQuality)
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
	_ = json.Unmarshal([]byte(featuresJS), &p.Features)
	_ = json.Unmarshal([]byte(imagesJS), &p.Images)
	_ = json.Unmarshal([]byte(srcsJS), &p.Sources)
	p.ScrapedAt = p.ScrapedAt.UTC()
	return &p, nil
}

func (pp *PostgresProperties) Close() error {
	return pp.db.Close()
}
