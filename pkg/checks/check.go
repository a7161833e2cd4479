// Package checks contains the signal collectors the engine runs against
// each request source.
//
// Every collector is independent and fail-open: an error from Run means
// "this signal is unavailable", the engine records a skipped signal and
// moves on. Collectors never decide blocking; they only contribute points
// and annotations.
package checks

import (
	"context"

	"github.com/reqshield/reqshield/pkg/models"
)

// Collector names as they appear in signal results.
const (
	NameGeoIP      = "geoip"
	NameTor        = "tor"
	NameVPN        = "vpn"
	NameUserAgent  = "userAgent"
	NameReputation = "reputation"
)

// Request is the input every collector sees.
type Request struct {
	IP        string
	UserAgent string
}

// Check produces one risk signal for a request.
//
// Run returns an error only when the signal could not be collected
// (timeout, transport failure, bad upstream response). A collector that
// ran but found nothing returns a performed result with a zero score.
// Deliberate skips (missing credentials) are performed=false results with
// a nil error.
type Check interface {
	Name() string
	Run(ctx context.Context, req Request) (models.SignalResult, error)
}
