package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/reqshield/reqshield/pkg/models"
	"github.com/reqshield/reqshield/pkg/threatlist"
)

const (
	vpnProxyScore = 60

	// DefaultVPNAPIEndpoint is the keyed proxy-check endpoint. The response
	// carries "proxy" and "hosting" booleans per queried IP.
	DefaultVPNAPIEndpoint = "https://pro.ip-api.com/json"

	vpnAPITimeout = 3 * time.Second
)

// VPNCheck detects VPN and proxy sources in two stages: first against the
// locally held VPN range list, then, only on a range miss and with an API
// key configured, against the remote proxy-check API.
//
// A detection from either stage is annotated; it scores +60 only when
// VPN/Tor blocking is enabled by policy.
type VPNCheck struct {
	lists       *threatlist.Store
	apiKey      string
	blockVPNTor bool
	client      *http.Client
	endpoint    string
}

// NewVPNCheck creates the VPN signal collector. An empty apiKey limits the
// check to the local range list.
func NewVPNCheck(lists *threatlist.Store, apiKey string, blockVPNTor bool) *VPNCheck {
	return &VPNCheck{
		lists:       lists,
		apiKey:      apiKey,
		blockVPNTor: blockVPNTor,
		client:      &http.Client{},
		endpoint:    DefaultVPNAPIEndpoint,
	}
}

func (c *VPNCheck) Name() string { return NameVPN }

func (c *VPNCheck) Run(ctx context.Context, req Request) (models.SignalResult, error) {
	res := models.SignalResult{Check: NameVPN, Performed: true}

	if c.lists.IsVPNRange(req.IP) {
		res.Flagged = true
		res.Details = map[string]any{"source": "rangeList"}
		if c.blockVPNTor {
			res.Score = vpnProxyScore
		}
		return res, nil
	}

	if c.apiKey == "" {
		return res, nil
	}

	proxy, hosting, err := c.queryAPI(ctx, req.IP)
	if err != nil {
		return models.SignalResult{}, err
	}
	if proxy || hosting {
		res.Flagged = true
		res.Details = map[string]any{
			"source":  "api",
			"proxy":   proxy,
			"hosting": hosting,
		}
		if c.blockVPNTor {
			res.Score = vpnProxyScore
		}
	}

	return res, nil
}

// queryAPI asks the remote endpoint whether the IP is a proxy or belongs
// to a hosting provider.
func (c *VPNCheck) queryAPI(ctx context.Context, ip string) (proxy, hosting bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, vpnAPITimeout)
	defer cancel()

	query := url.Values{}
	query.Set("key", c.apiKey)
	query.Set("fields", "status,message,proxy,hosting")
	endpoint := fmt.Sprintf("%s/%s?%s", c.endpoint, url.PathEscape(ip), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, false, fmt.Errorf("vpn api: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Proxy   bool   `json:"proxy"`
		Hosting bool   `json:"hosting"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, false, fmt.Errorf("vpn api: decode response: %w", err)
	}
	if body.Status != "success" {
		return false, false, fmt.Errorf("vpn api: %s", body.Message)
	}

	return body.Proxy, body.Hosting, nil
}
