package checks

import (
	"context"
	"strings"

	"github.com/reqshield/reqshield/pkg/models"
)

const (
	shortUserAgentScore = 20
	botUserAgentScore   = 15

	// Anything shorter than this cannot be a real browser identification.
	minUserAgentLength = 10
)

// botSignatures are matched as lowercase substrings. "java/" rather than
// "java" so the JVM client banner matches without catching "javascript".
var botSignatures = []string{
	"bot",
	"crawler",
	"spider",
	"scraper",
	"curl",
	"wget",
	"python",
	"java/",
	"go-http-client",
	"okhttp",
	"httpie",
	"libwww",
	"axios",
	"node-fetch",
	"scrapy",
	"aiohttp",
	"phantomjs",
	"headless",
	"puppeteer",
	"playwright",
	"selenium",
}

// UserAgentCheck inspects the raw user agent string. It has no external
// dependencies and therefore never skips.
//
// Two independent contributions: +20 for a missing or implausibly short
// value, +15 for a known automation signature. A short tool banner like
// "curl/8.0" takes both.
type UserAgentCheck struct{}

// NewUserAgentCheck creates the user agent signal collector.
func NewUserAgentCheck() *UserAgentCheck {
	return &UserAgentCheck{}
}

func (c *UserAgentCheck) Name() string { return NameUserAgent }

func (c *UserAgentCheck) Run(ctx context.Context, req Request) (models.SignalResult, error) {
	res := models.SignalResult{
		Check:     NameUserAgent,
		Performed: true,
		Details:   make(map[string]any),
	}

	ua := strings.TrimSpace(req.UserAgent)
	if len(ua) < minUserAgentLength {
		res.Score += shortUserAgentScore
		if ua == "" {
			res.Details["uaMissing"] = true
		} else {
			res.Details["uaShort"] = true
		}
	}

	if sig := matchBotSignature(ua); sig != "" {
		res.Score += botUserAgentScore
		res.Details["uaBot"] = sig
	}

	res.Flagged = res.Score > 0
	if len(res.Details) == 0 {
		res.Details = nil
	}
	return res, nil
}

// matchBotSignature returns the first matching signature, or "".
func matchBotSignature(ua string) string {
	lower := strings.ToLower(ua)
	for _, sig := range botSignatures {
		if strings.Contains(lower, sig) {
			return sig
		}
	}
	return ""
}
