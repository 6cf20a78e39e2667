package etl

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"propscout-engine/internal/domain"
)

// street-suffix variations collapsed before hashing, so "123 Main Street"
// and "123 Main St" fingerprint identically
var suffixAbbrev = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"boulevard": "blvd",
	"drive":     "dr",
	"road":      "rd",
	"lane":      "ln",
	"court":     "ct",
	"place":     "pl",
}

func normalizeAddressPart(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		if abbr, ok := suffixAbbrev[w]; ok {
			words[i] = abbr
		}
	}
	return strings.Join(words, " ")
}

// Fingerprint is a deterministic hash of the normalized address components.
// Equal fingerprints denote the same physical unit.
func Fingerprint(street, city, state, zip string) string {
	key := strings.Join([]string{
		normalizeAddressPart(street),
		normalizeAddressPart(city),
		normalizeAddressPart(state),
		strings.TrimSpace(zip),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Merge combines two records sharing a fingerprint. Field rule: most
// complete wins, most recent breaks ties. A non-nil value beats nil, and
// when both records carry a field the one scraped later wins. An exact
// timestamp tie falls back to source-name order, then to a digest of the
// whole record, so the result never depends on argument order.
func Merge(a, b domain.Property) domain.Property {
	newer, older := a, b
	if b.ScrapedAt.After(a.ScrapedAt) ||
		(b.ScrapedAt.Equal(a.ScrapedAt) && tieRank(b) < tieRank(a)) {
		newer, older = b, a
	}

	out := newer

	out.Price = pickInt64(newer.Price, older.Price)
	out.SquareFeet = pickFloat(newer.SquareFeet, older.SquareFeet)
	out.LotSize = pickFloat(newer.LotSize, older.LotSize)
	out.Bedrooms = pickFloat(newer.Bedrooms, older.Bedrooms)
	out.Bathrooms = pickFloat(newer.Bathrooms, older.Bathrooms)
	out.Stories = pickFloat(newer.Stories, older.Stories)
	out.YearBuilt = pickIntPtr(newer.YearBuilt, older.YearBuilt)
	out.Latitude = pickFloat(newer.Latitude, older.Latitude)
	out.Longitude = pickFloat(newer.Longitude, older.Longitude)

	out.Address = pickString(newer.Address, older.Address)
	out.City = pickString(newer.City, older.City)
	out.State = pickString(newer.State, older.State)
	out.ZipCode = pickString(newer.ZipCode, older.ZipCode)
	out.CountryCode = pickString(newer.CountryCode, older.CountryCode)
	out.URL = pickString(newer.URL, older.URL)
	out.Description = pickString(newer.Description, older.Description)

	if out.PropertyType == domain.TypeOther && older.PropertyType != "" {
		out.PropertyType = older.PropertyType
	}
	if out.PropertyType == "" {
		out.PropertyType = older.PropertyType
	}

	out.Images = unionSorted(newer.Images, older.Images)
	out.Features = unionFeatures(newer.Features, older.Features)
	out.Sources = unionSources(newer.Sources, older.Sources)

	if older.ScrapedAt.After(out.ScrapedAt) {
		out.ScrapedAt = older.ScrapedAt
	}
	return out
}

// tieRank orders records whose timestamps match exactly: source name first,
// then a content digest for duplicates arriving from the same source in the
// same instant (several cards for one address on a single page share the
// page-level scrape time).
func tieRank(p domain.Property) string {
	blob, _ := json.Marshal(p)
	sum := sha256.Sum256(blob)
	return firstSource(p) + "|" + hex.EncodeToString(sum[:])
}

func firstSource(p domain.Property) string {
	min := ""
	for _, s := range p.Sources {
		if min == "" || string(s) < min {
			min = string(s)
		}
	}
	return min
}

func pickInt64(a, b *int64) *int64 {
	if a != nil {
		return a
	}
	return b
}

func pickFloat(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}

func pickIntPtr(a, b *int) *int {
	if a != nil {
		return a
	}
	return b
}

func pickString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func unionSorted(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range append(append([]string{}, a...), b...) {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func unionFeatures(newer, older map[string]string) map[string]string {
	if newer == nil && older == nil {
		return nil
	}
	out := map[string]string{}
	for k, v := range older {
		out[k] = v
	}
	for k, v := range newer { // newer wins on key conflicts
		out[k] = v
	}
	return out
}

func unionSources(a, b []domain.DataSource) []domain.DataSource {
	seen := map[domain.DataSource]bool{}
	var out []domain.DataSource
	for _, s := range append(append([]domain.DataSource{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

const lockShards = 64

// KeyedMutex serializes work per fingerprint without a global lock.
// Contention is scoped to a shard, never the whole table.
type KeyedMutex struct {
	shards [lockShards]sync.Mutex
}

func (km *KeyedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &km.shards[h.Sum32()%lockShards]
}

func (km *KeyedMutex) Lock(key string)   { km.shard(key).Lock() }
func (km *KeyedMutex) Unlock(key string) { km.shard(key).Unlock() }
