// Package redfin scrapes listings through Redfin's unofficial stingray GIS
// endpoint, which returns JSON behind a `{}&&` XSSI prefix.
package redfin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"propscout-engine/internal/domain"
	"propscout-engine/internal/scrape/types"
	"propscout-engine/internal/scrape/util"
)

const pageSize = 50

type Config struct {
	BaseURL string // override for fixtures
}

type Adapter struct {
	cfg    Config
	client *util.Client
}

func New(cfg Config, client *util.Client) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.redfin.com"
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Name() domain.DataSource { return domain.SourceRedfin }

type gisResponse struct {
	Payload struct {
		Homes []gisHome `json:"homes"`
	} `json:"payload"`
}

type gisHome struct {
	PropertyID   json.Number `json:"property_id"`
	PropertyType int         `json:"property_type"`
	Price        json.Number `json:"price"`
	Beds         json.Number `json:"beds"`
	Baths        json.Number `json:"baths"`
	Sqft         json.Number `json:"sqft"`
	LotSize      json.Number `json:"lot_size"`
	YearBuilt    json.Number `json:"year_built"`
	Stories      json.Number `json:"stories"`
	StreetLine   string      `json:"street_line"`
	City         string      `json:"city"`
	State        string      `json:"state_or_province"`
	PostalCode   string      `json:"postal_code"`
	Lat          json.Number `json:"lat"`
	Lng          json.Number `json:"lng"`
	URL          string      `json:"url"`
	Remarks      string      `json:"listing_remarks"`
	PhotoURL     string      `json:"photo_url"`
}

func (a *Adapter) searchURL(criteria domain.SearchCriteria, page int) string {
	q := url.Values{}
	q.Set("al", "1")
	q.Set("v", "8")
	q.Set("status", "9")
	q.Set("num_homes", strconv.Itoa(pageSize))
	q.Set("page_number", strconv.Itoa(page))
	if criteria.Location != "" {
		q.Set("location", criteria.Location)
	}
	if criteria.MinPrice > 0 {
		q.Set("min_price", strconv.FormatInt(criteria.MinPrice, 10))
	}
	if criteria.MaxPrice > 0 {
		q.Set("max_price", strconv.FormatInt(criteria.MaxPrice, 10))
	}
	if criteria.Bedrooms > 0 {
		q.Set("min_beds", strconv.Itoa(criteria.Bedrooms))
	}
	return a.cfg.BaseURL + "/stingray/api/gis?" + q.Encode()
}

func (a *Adapter) Search(ctx context.Context, criteria domain.SearchCriteria, page int) (types.Page, error) {
	res, err := a.client.Get(ctx, a.Name(), a.searchURL(criteria, page))
	if err != nil {
		return types.Page{}, err
	}
	if err := util.ClassifyStatus(res); err != nil {
		return types.Page{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return types.Page{}, types.Transient("redfin read body: %v", err)
	}

	// stingray responses are prefixed with {}&& to defeat JSON hijacking
	raw := strings.TrimPrefix(strings.TrimSpace(string(body)), "{}&&")
	if util.LooksLikeChallenge(raw) {
		return types.Page{}, types.ErrBlocked
	}

	var gis gisResponse
	if err := json.Unmarshal([]byte(raw), &gis); err != nil {
		return types.Page{}, fmt.Errorf("redfin decode: %w", err)
	}

	out := types.Page{HasMore: len(gis.Payload.Homes) >= pageSize}
	now := time.Now().UTC()
	for _, h := range gis.Payload.Homes {
		listing, ok := a.toRaw(h, now)
		if !ok {
			out.Skipped++
			continue
		}
		out.Listings = append(out.Listings, listing)
	}
	return out, nil
}

// Detail re-fetches a single listing; the GIS payload already carries the
// full record, so this hits the same endpoint filtered to the property URL.
func (a *Adapter) Detail(ctx context.Context, listingURL string) (domain.RawListing, error) {
	res, err := a.client.Get(ctx, a.Name(), listingURL)
	if err != nil {
		return domain.RawListing{}, err
	}
	if err := util.ClassifyStatus(res); err != nil {
		return domain.RawListing{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return domain.RawListing{}, types.Transient("redfin read detail: %v", err)
	}
	raw := strings.TrimPrefix(strings.TrimSpace(string(body)), "{}&&")

	var h gisHome
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return domain.RawListing{}, fmt.Errorf("redfin decode detail: %w", err)
	}
	listing, ok := a.toRaw(h, time.Now().UTC())
	if !ok {
		return domain.RawListing{}, fmt.Errorf("redfin detail: unparseable record")
	}
	return listing, nil
}

// redfin property_type codes, per their GIS payloads
var typeByCode = map[int]string{
	1: "house",
	2: "condo",
	3: "townhouse",
	4: "multi_family",
	5: "land",
}

func (a *Adapter) toRaw(h gisHome, at time.Time) (domain.RawListing, bool) {
	if h.StreetLine == "" && h.City == "" && h.PostalCode == "" {
		return domain.RawListing{}, false
	}

	fields := map[string]string{
		"external_id":    h.PropertyID.String(),
		"street_address": util.CleanText(h.StreetLine),
		"city":           util.CleanText(h.City),
		"state":          util.CleanText(h.State),
		"zip_code":       util.CleanText(h.PostalCode),
		"description":    util.CleanText(h.Remarks),
	}
	setNum := func(key string, n json.Number) {
		if s := n.String(); s != "" && s != "0" {
			fields[key] = s
		}
	}
	setNum("price", h.Price)
	setNum("bedrooms", h.Beds)
	setNum("bathrooms", h.Baths)
	setNum("square_feet", h.Sqft)
	setNum("lot_size", h.LotSize)
	setNum("year_built", h.YearBuilt)
	setNum("stories", h.Stories)
	setNum("latitude", h.Lat)
	setNum("longitude", h.Lng)

	if t, ok := typeByCode[h.PropertyType]; ok {
		fields["property_type"] = t
	}
	if h.PhotoURL != "" {
		fields["images"] = h.PhotoURL
	}

	srcURL := h.URL
	if strings.HasPrefix(srcURL, "/") {
		srcURL = a.cfg.BaseURL + srcURL
	}
	fields["url"] = srcURL

	return domain.RawListing{
		Source:    domain.SourceRedfin,
		SourceURL: srcURL,
		Fields:    fields,
		ScrapedAt: at,
	}, true
}
