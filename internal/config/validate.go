package config

import (
	"fmt"
	"strings"

	"propscout-engine/internal/etl"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// NormalizeAndValidate fills defaults, normalizes lists and reports problems.
// Errors block startup; warnings are logged and ignored.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	trimList := func(xs []string) []string {
		seen := map[string]bool{}
		var ys []string
		for _, x := range xs {
			x = strings.TrimSpace(x)
			if x == "" {
				continue
			}
			if seen[x] {
				continue
			}
			seen[x] = true
			ys = append(ys, x)
		}
		return ys
	}

	out.Scraper.UserAgents = trimList(out.Scraper.UserAgents)
	out.Scraper.Proxies = trimList(out.Scraper.Proxies)

	// ---- Defaults ----

	if out.App.Port == 0 {
		out.App.Port = 8091
	}
	if out.App.Storage == "" {
		out.App.Storage = "sqlite"
	}
	if out.Scraper.GlobalRPM == 0 {
		out.Scraper.GlobalRPM = 60
	}
	if out.Scraper.RequestTimeoutSeconds == 0 {
		out.Scraper.RequestTimeoutSeconds = 30
	}
	if out.Scraper.MaxAttempts == 0 {
		out.Scraper.MaxAttempts = 3
	}
	if out.Scraper.BackoffBaseMS == 0 {
		out.Scraper.BackoffBaseMS = 1000
	}
	if out.Scraper.JitterMaxMS == 0 {
		out.Scraper.JitterMaxMS = 1500
	}
	if out.ETL.QualityThreshold == 0 {
		out.ETL.QualityThreshold = 40
	}
	if out.ETL.Weights == (etl.Weights{}) {
		// all-zero table means unset, not "score everything zero"
		out.ETL.Weights = etl.DefaultWeights()
	}

	normalizeSource := func(sc *SourceConfig) {
		if sc.RPM == 0 {
			sc.RPM = 12
		}
		if sc.Workers == 0 {
			sc.Workers = 2
		}
	}
	normalizeSource(&out.Scraper.Sources.Redfin)
	normalizeSource(&out.Scraper.Sources.Zillow)
	normalizeSource(&out.Scraper.Sources.Apartments)

	// ---- Validation rules ----

	if out.App.Port < 1 || out.App.Port > 65535 {
		res.addErr("app.port must be in 1..65535")
	}

	switch out.App.Storage {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(out.App.PostgresDSN) == "" {
			res.addErr("app.postgres_dsn is required when app.storage=postgres")
		}
	default:
		res.addErr("app.storage must be sqlite or postgres, got %q", out.App.Storage)
	}

	if !out.Scraper.Sources.Redfin.Enabled &&
		!out.Scraper.Sources.Zillow.Enabled &&
		!out.Scraper.Sources.Apartments.Enabled {
		res.addErr("no sources enabled: enable redfin, zillow, or apartments")
	}

	if out.Scraper.GlobalRPM < 0 {
		res.addErr("scraper.global_rpm must be >= 0")
	}
	if out.Scraper.GlobalRPM > 300 {
		res.addWarn("scraper.global_rpm is very high (%d) and will likely trigger blocks.", out.Scraper.GlobalRPM)
	}
	if out.Scraper.JitterMinMS > out.Scraper.JitterMaxMS {
		res.addErr("scraper.jitter_min_ms (%d) must not exceed jitter_max_ms (%d)",
			out.Scraper.JitterMinMS, out.Scraper.JitterMaxMS)
	}
	if out.Scraper.MaxAttempts < 1 {
		res.addErr("scraper.max_attempts must be >= 1")
	}

	checkSource := func(name string, sc SourceConfig) {
		if sc.RPM < 0 {
			res.addErr("scraper.sources.%s.rpm must be >= 0", name)
		}
		if sc.RPM > 60 {
			res.addWarn("scraper.sources.%s.rpm is high (%d); residential sites throttle aggressively.", name, sc.RPM)
		}
		if sc.Workers < 0 || sc.Workers > 16 {
			res.addErr("scraper.sources.%s.workers must be in 0..16", name)
		}
	}
	checkSource("redfin", out.Scraper.Sources.Redfin)
	checkSource("zillow", out.Scraper.Sources.Zillow)
	checkSource("apartments", out.Scraper.Sources.Apartments)

	if out.ETL.QualityThreshold < 0 || out.ETL.QualityThreshold > 100 {
		res.addErr("etl.quality_threshold must be in 0..100")
	}

	wtotal := out.ETL.Weights.Address + out.ETL.Weights.Price + out.ETL.Weights.Size +
		out.ETL.Weights.Bedrooms + out.ETL.Weights.Bathrooms +
		out.ETL.Weights.Description + out.ETL.Weights.Images
	if wtotal < 0 {
		res.addErr("etl.weights must not be negative")
	}

	return out, res
}
