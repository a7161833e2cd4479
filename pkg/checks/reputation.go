package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/reqshield/reqshield/pkg/models"
)

const (
	// DefaultReputationEndpoint is the AbuseIPDB check endpoint.
	DefaultReputationEndpoint = "https://api.abuseipdb.com/api/v2/check"

	reputationTimeout = 5 * time.Second

	// reputationMaxAgeDays bounds how old reports may be to count.
	reputationMaxAgeDays = "90"

	// Confidence at or below this is ignored; above it the confidence
	// itself becomes the contribution, capped at reputationScoreCap.
	reputationMinConfidence = 25
	reputationScoreCap      = 50
)

// ReputationCheck queries AbuseIPDB for the IP's abuse confidence. Without
// an API key the signal is skipped (performed=false), never an error.
type ReputationCheck struct {
	apiKey   string
	client   *http.Client
	endpoint string
}

// NewReputationCheck creates the reputation signal collector.
func NewReputationCheck(apiKey string) *ReputationCheck {
	return &ReputationCheck{
		apiKey:   apiKey,
		client:   &http.Client{},
		endpoint: DefaultReputationEndpoint,
	}
}

func (c *ReputationCheck) Name() string { return NameReputation }

func (c *ReputationCheck) Run(ctx context.Context, req Request) (models.SignalResult, error) {
	if c.apiKey == "" {
		return models.SignalResult{Check: NameReputation}, nil
	}

	data, err := c.query(ctx, req.IP)
	if err != nil {
		return models.SignalResult{}, err
	}

	res := models.SignalResult{
		Check:     NameReputation,
		Performed: true,
		Details: map[string]any{
			"abuseConfidence": data.AbuseConfidenceScore,
			"totalReports":    data.TotalReports,
		},
	}
	if data.ISP != "" {
		res.Details["isp"] = data.ISP
	}
	if data.UsageType != "" {
		res.Details["usageType"] = data.UsageType
	}

	if data.AbuseConfidenceScore > reputationMinConfidence {
		res.Flagged = true
		res.Score = min(data.AbuseConfidenceScore, reputationScoreCap)
	}

	return res, nil
}

type abuseCheckData struct {
	IPAddress            string `json:"ipAddress"`
	AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
	CountryCode          string `json:"countryCode"`
	UsageType            string `json:"usageType"`
	ISP                  string `json:"isp"`
	IsTor                bool   `json:"isTor"`
	TotalReports         int    `json:"totalReports"`
}

type abuseCheckResponse struct {
	Data abuseCheckData `json:"data"`
}

func (c *ReputationCheck) query(ctx context.Context, ip string) (*abuseCheckData, error) {
	ctx, cancel := context.WithTimeout(ctx, reputationTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("ipAddress", ip)
	params.Set("maxAgeInDays", reputationMaxAgeDays)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("reputation api: rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reputation api: unexpected status %d", resp.StatusCode)
	}

	var body abuseCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("reputation api: decode response: %w", err)
	}

	return &body.Data, nil
}
