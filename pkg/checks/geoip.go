package checks

import (
	"context"

	"github.com/reqshield/reqshield/pkg/geoip"
	"github.com/reqshield/reqshield/pkg/models"
)

// highRiskCountries are scored +30 on a geo match.
var highRiskCountries = map[string]bool{
	"CN": true,
	"RU": true,
	"KP": true,
	"IR": true,
}

const highRiskCountryScore = 30

// GeoIPCheck resolves the request IP against the local MaxMind databases.
// It runs entirely offline; an IP with no database record still counts as
// a performed signal with no annotations.
type GeoIPCheck struct {
	geo *geoip.Service
}

// NewGeoIPCheck creates the geo signal collector.
func NewGeoIPCheck(geo *geoip.Service) *GeoIPCheck {
	return &GeoIPCheck{geo: geo}
}

func (c *GeoIPCheck) Name() string { return NameGeoIP }

// Run annotates country, region, city, and timezone, plus ASN data when an
// ASN database is loaded, and scores high-risk countries.
func (c *GeoIPCheck) Run(ctx context.Context, req Request) (models.SignalResult, error) {
	loc, err := c.geo.Lookup(req.IP)
	if err != nil {
		return models.SignalResult{}, err
	}

	res := models.SignalResult{
		Check:     NameGeoIP,
		Performed: true,
		Details:   make(map[string]any),
	}

	if loc.CountryCode != "" {
		res.Details["country"] = loc.CountryCode
		if loc.Region != "" {
			res.Details["region"] = loc.Region
		}
		if loc.City != "" {
			res.Details["city"] = loc.City
		}
		if loc.Timezone != "" {
			res.Details["timezone"] = loc.Timezone
		}
		if highRiskCountries[loc.CountryCode] {
			res.Score = highRiskCountryScore
			res.Flagged = true
			res.Details["highRiskCountry"] = true
		}
	}

	if c.geo.HasASN() {
		if asn, org, err := c.geo.ASN(req.IP); err == nil && asn != 0 {
			res.Details["asn"] = asn
			res.Details["asnOrg"] = org
		}
	}

	return res, nil
}
