// Package apartments scrapes apartments.com listing placards. Rentals carry
// a monthly rent rather than a sale price; the raw field is named "rent" so
// the transformer can keep the two apart.
package apartments

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"propscout-engine/internal/domain"
	"propscout-engine/internal/scrape/types"
	"propscout-engine/internal/scrape/util"
)

type Config struct {
	BaseURL string
}

type Adapter struct {
	cfg    Config
	client *util.Client
}

func New(cfg Config, client *util.Client) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.apartments.com"
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Name() domain.DataSource { return domain.SourceApartments }

func (a *Adapter) searchURL(criteria domain.SearchCriteria, page int) string {
	loc := strings.ToLower(util.CleanText(criteria.Location))
	loc = strings.ReplaceAll(loc, ", ", "-")
	loc = strings.ReplaceAll(loc, ",", "-")
	loc = strings.ReplaceAll(loc, " ", "-")

	u := a.cfg.BaseURL + "/" + url.PathEscape(loc) + "/"
	if criteria.MinPrice > 0 || criteria.MaxPrice > 0 {
		// apartments.com encodes price bands in the path: /austin-tx/1000-to-2000/
		switch {
		case criteria.MinPrice > 0 && criteria.MaxPrice > 0:
			u += fmt.Sprintf("%d-to-%d/", criteria.MinPrice, criteria.MaxPrice)
		case criteria.MaxPrice > 0:
			u += fmt.Sprintf("under-%d/", criteria.MaxPrice)
		default:
			u += fmt.Sprintf("over-%d/", criteria.MinPrice)
		}
	}
	if page > 1 {
		u += fmt.Sprintf("%d/", page)
	}
	return u
}

var (
	bedRe  = regexp.MustCompile(`(?i)([\d.]+)\s*(?:bd|bed)`)
	bathRe = regexp.MustCompile(`(?i)([\d.]+)\s*(?:ba|bath)`)
	sqftRe = regexp.MustCompile(`(?i)([\d,]+)\s*(?:sqft|sq\.?\s*ft)`)
)

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
		return types.Page{}, types.Transient("apartments read body: %v", err)
	}
	if util.LooksLikeChallenge(string(body)) {
		return types.Page{}, types.ErrBlocked
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return types.Page{}, fmt.Errorf("apartments parse html: %w", err)
	}

	out := types.Page{}
	now := time.Now().UTC()
	doc.Find("article.placard, .property-card, [data-listingid]").Each(func(_ int, card *goquery.Selection) {
		listing, ok := a.fromPlacard(card, now)
		if !ok {
			out.Skipped++
			return
		}
		out.Listings = append(out.Listings, listing)
	})

	out.HasMore = doc.Find("a.next, .paging-next, a[aria-label='Next Page']").Length() > 0
	return out, nil
}

func (a *Adapter) fromPlacard(card *goquery.Selection, at time.Time) (domain.RawListing, bool) {
	href, _ := card.Find("a.property-link").First().Attr("href")
	if href == "" {
		href, _ = card.Find("a[href]").First().Attr("href")
	}
	if href == "" {
		return domain.RawListing{}, false
	}
	if strings.HasPrefix(href, "/") {
		href = a.cfg.BaseURL + href
	}

	fields := map[string]string{"url": href, "property_type": "apartment"}
	if id, ok := card.Attr("data-listingid"); ok {
		fields["external_id"] = id
	}

	name := util.CleanText(card.Find(".property-name, .property-title").First().Text())
	addr := util.CleanText(card.Find(".property-address").First().Text())
	if addr == "" {
		return domain.RawListing{}, false
	}
	// placards split name and address; the name is usually the street line
	// for individual units, a building name otherwise
	if name != "" && !strings.Contains(addr, name) {
		fields["building_name"] = name
	}
	parts := strings.Split(addr, ",")
	fields["street_address"] = util.CleanText(parts[0])
	if len(parts) > 1 {
		fields["city"] = util.CleanText(parts[1])
	}
	if len(parts) > 2 {
		stateZip := strings.Fields(util.CleanText(parts[2]))
		if len(stateZip) > 0 {
			fields["state"] = stateZip[0]
		}
		if len(stateZip) > 1 {
			fields["zip_code"] = stateZip[1]
		}
	}

	if rent := util.CleanText(card.Find(".property-pricing, .rent-range").First().Text()); rent != "" {
		fields["rent"] = rent
	}
	bedsBaths := util.CleanText(card.Find(".bed-bath, .property-beds").First().Text())
	if m := bedRe.FindStringSubmatch(bedsBaths); m != nil {
		fields["bedrooms"] = m[1]
	}
	if m := bathRe.FindStringSubmatch(bedsBaths); m != nil {
		fields["bathrooms"] = m[1]
	}
	if m := sqftRe.FindStringSubmatch(util.CleanText(card.Find(".property-sqft, .sqft").First().Text())); m != nil {
		fields["square_feet"] = strings.ReplaceAll(m[1], ",", "")
	}
	if img, ok := card.Find(".property-photo img, .photo img, img").First().Attr("src"); ok && img != "" {
		fields["images"] = img
	}
	if amen := util.CleanText(card.Find(".property-amenities, .amenities").First().Text()); amen != "" {
		fields["amenities"] = amen
	}

	return domain.RawListing{
		Source:    domain.SourceApartments,
		SourceURL: href,
		Fields:    fields,
		ScrapedAt: at,
	}, true
}

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
		return domain.RawListing{}, types.Transient("apartments read detail: %v", err)
	}
	if util.LooksLikeChallenge(string(body)) {
		return domain.RawListing{}, types.ErrBlocked
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return domain.RawListing{}, fmt.Errorf("apartments parse detail: %w", err)
	}

	fields := map[string]string{"url": listingURL, "property_type": "apartment"}
	if addr := util.CleanText(doc.Find(".property-address, .propertyAddress").First().Text()); addr != "" {
		parts := strings.Split(addr, ",")
		fields["street_address"] = util.CleanText(parts[0])
		if len(parts) > 1 {
			fields["city"] = util.CleanText(parts[1])
		}
		if len(parts) > 2 {
			stateZip := strings.Fields(util.CleanText(parts[2]))
			if len(stateZip) > 0 {
				fields["state"] = stateZip[0]
			}
			if len(stateZip) > 1 {
				fields["zip_code"] = stateZip[1]
			}
		}
	}
	if rent := util.CleanText(doc.Find(".unit-price, .rent-range, .rentInfo").First().Text()); rent != "" {
		fields["rent"] = rent
	}
	if desc := util.CleanText(doc.Find(".property-description, .description").First().Text()); desc != "" {
		fields["description"] = desc
	}

	var amenities []string
	doc.Find(".amenity-item, .amenity, .feature-item").Each(func(_ int, s *goquery.Selection) {
		if t := util.CleanText(s.Text()); t != "" {
			amenities = append(amenities, t)
		}
	})
	if len(amenities) > 0 {
		fields["amenities"] = strings.Join(amenities, "|")
	}

	var images []string
	doc.Find(".property-photo img, .gallery img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && src != "" {
			images = append(images, src)
		}
	})
	if len(images) > 0 {
		fields["images"] = strings.Join(images, "|")
	}

	return domain.RawListing{
		Source:    domain.SourceApartments,
		SourceURL: listingURL,
		Fields:    fields,
		ScrapedAt: time.Now().UTC(),
	}, nil
}
