// Package zillow scrapes Zillow search result cards. Search pages come back
// as server-rendered HTML; detail pages are mostly client-rendered, so they
// go through the headless renderer when one is configured.
package zillow

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"propscout-engine/internal/domain"
	"propscout-engine/internal/scrape/types"
	"propscout-engine/internal/scrape/util"
)

// Renderer fetches a fully rendered page for JS-heavy URLs.
type Renderer interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type Config struct {
	BaseURL string
}

type Adapter struct {
	cfg      Config
	client   *util.Client
	renderer Renderer // nil means plain HTTP detail fetches
}

func New(cfg Config, client *util.Client, renderer Renderer) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.zillow.com"
	}
	return &Adapter{cfg: cfg, client: client, renderer: renderer}
}

func (a *Adapter) Name() domain.DataSource { return domain.SourceZillow }

func (a *Adapter) searchURL(criteria domain.SearchCriteria, page int) string {
	loc := strings.ToLower(util.CleanText(criteria.Location))
	loc = strings.ReplaceAll(loc, ", ", "-")
	loc = strings.ReplaceAll(loc, ",", "-")
	loc = strings.ReplaceAll(loc, " ", "-")

	u := fmt.Sprintf("%s/homes/%s_rb/", a.cfg.BaseURL, url.PathEscape(loc))
	if page > 1 {
		u += fmt.Sprintf("%d_p/", page)
	}

	q := url.Values{}
	if criteria.MinPrice > 0 {
		q.Set("price_min", strconv.FormatInt(criteria.MinPrice, 10))
	}
	if criteria.MaxPrice > 0 {
		q.Set("price_max", strconv.FormatInt(criteria.MaxPrice, 10))
	}
	if criteria.Bedrooms > 0 {
		q.Set("beds_min", strconv.Itoa(criteria.Bedrooms))
	}
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

var (
	zpidRe = regexp.MustCompile(`/(\d+)_zpid/`)
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
		return types.Page{}, types.Transient("zillow read body: %v", err)
	}
	if util.LooksLikeChallenge(string(body)) {
		return types.Page{}, types.ErrBlocked
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return types.Page{}, fmt.Errorf("zillow parse html: %w", err)
	}

	cards := doc.Find("article[data-test='property-card'], .list-card")
	out := types.Page{}
	now := time.Now().UTC()

	cards.Each(func(_ int, card *goquery.Selection) {
		listing, ok := a.fromCard(card, now)
		if !ok {
			out.Skipped++
			return
		}
		out.Listings = append(out.Listings, listing)
	})

	// A next-page link is the only reliable pagination signal on zillow HTML.
	out.HasMore = doc.Find("a[rel='next'], a[title='Next page']").Length() > 0
	return out, nil
}

func (a *Adapter) fromCard(card *goquery.Selection, at time.Time) (domain.RawListing, bool) {
	href, _ := card.Find("a[href*='/homedetails/']").First().Attr("href")
	if href == "" {
		return domain.RawListing{}, false
	}
	if strings.HasPrefix(href, "/") {
		href = a.cfg.BaseURL + href
	}

	fields := map[string]string{"url": href}
	if m := zpidRe.FindStringSubmatch(href); m != nil {
		fields["external_id"] = m[1]
	}

	if price := util.CleanText(card.Find("[data-test='property-card-price'], .list-card-price").First().Text()); price != "" {
		fields["price"] = price
	}

	addr := util.CleanText(card.Find("address, .list-card-addr").First().Text())
	if addr == "" {
		return domain.RawListing{}, false
	}
	splitAddress(addr, fields)

	details := util.CleanText(card.Find("[data-test='property-card-details'], .list-card-details").First().Text())
	if m := bedRe.FindStringSubmatch(details); m != nil {
		fields["bedrooms"] = m[1]
	}
	if m := bathRe.FindStringSubmatch(details); m != nil {
		fields["bathrooms"] = m[1]
	}
	if m := sqftRe.FindStringSubmatch(details); m != nil {
		fields["square_feet"] = strings.ReplaceAll(m[1], ",", "")
	}

	if t := util.CleanText(card.Find(".list-card-type").First().Text()); t != "" {
		fields["property_type"] = t
	}
	if img, ok := card.Find("img").First().Attr("src"); ok && img != "" {
		fields["images"] = img
	}

	return domain.RawListing{
		Source:    domain.SourceZillow,
		SourceURL: href,
		Fields:    fields,
		ScrapedAt: at,
	}, true
}

// splitAddress parses "123 Main St, Austin, TX 78701" into components.
// Unit lines ("123 Main St, Apt 4, Austin, TX 78701") stay on the street part.
func splitAddress(addr string, fields map[string]string) {
	parts := strings.Split(addr, ",")
	if len(parts) < 3 {
		fields["street_address"] = addr
		return
	}
	fields["street_address"] = util.CleanText(strings.Join(parts[:len(parts)-2], ", "))
	fields["city"] = util.CleanText(parts[len(parts)-2])
	stateZip := strings.Fields(util.CleanText(parts[len(parts)-1]))
	if len(stateZip) > 0 {
		fields["state"] = stateZip[0]
	}
	if len(stateZip) > 1 {
		fields["zip_code"] = stateZip[1]
	}
}

func (a *Adapter) Detail(ctx context.Context, listingURL string) (domain.RawListing, error) {
	var html string
	if a.renderer != nil {
		rendered, err := a.renderer.Fetch(ctx, listingURL)
		if err != nil {
			return domain.RawListing{}, types.Transient("zillow render detail: %v", err)
		}
		html = rendered
	} else {
		res, err := a.client.Get(ctx, a.Name(), listingURL)
		if err != nil {
			return domain.RawListing{}, err
		}
		if err := util.ClassifyStatus(res); err != nil {
			return domain.RawListing{}, err
		}
		body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
		res.Body.Close()
		if err != nil {
			return domain.RawListing{}, types.Transient("zillow read detail: %v", err)
		}
		html = string(body)
	}

	if util.LooksLikeChallenge(html) {
		return domain.RawListing{}, types.ErrBlocked
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return domain.RawListing{}, fmt.Errorf("zillow parse detail: %w", err)
	}

	fields := map[string]string{"url": listingURL}
	if m := zpidRe.FindStringSubmatch(listingURL); m != nil {
		fields["external_id"] = m[1]
	}
	if addr := util.CleanText(doc.Find("h1").First().Text()); addr != "" {
		splitAddress(addr, fields)
	}
	if price := util.CleanText(doc.Find("[data-testid='price'], .summary-container [data-test='price']").First().Text()); price != "" {
		fields["price"] = price
	}
	if desc := util.CleanText(doc.Find("[data-testid='description']").First().Text()); desc != "" {
		fields["description"] = desc
	}

	facts := util.CleanText(doc.Find("[data-testid='bed-bath-sqft-facts'], .summary-container").First().Text())
	if m := bedRe.FindStringSubmatch(facts); m != nil {
		fields["bedrooms"] = m[1]
	}
	if m := bathRe.FindStringSubmatch(facts); m != nil {
		fields["bathrooms"] = m[1]
	}
	if m := sqftRe.FindStringSubmatch(facts); m != nil {
		fields["square_feet"] = strings.ReplaceAll(m[1], ",", "")
	}

	var images []string
	doc.Find("ul[class*='photo'] img, [data-testid='gallery'] img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && src != "" {
			images = append(images, src)
		}
	})
	if len(images) > 0 {
		fields["images"] = strings.Join(images, "|")
	}

	return domain.RawListing{
		Source:    domain.SourceZillow,
		SourceURL: listingURL,
		Fields:    fields,
		ScrapedAt: time.Now().UTC(),
	}, nil
}
