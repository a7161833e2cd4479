package checks

import (
	"context"

	"github.com/reqshield/reqshield/pkg/models"
	"github.com/reqshield/reqshield/pkg/threatlist"
)

const torExitScore = 80

// TorCheck matches the request IP against the Tor exit node list. A match
// is always annotated; it scores +80 only when VPN/Tor blocking is enabled
// by policy.
type TorCheck struct {
	lists       *threatlist.Store
	blockVPNTor bool
}

// NewTorCheck creates the Tor signal collector.
func NewTorCheck(lists *threatlist.Store, blockVPNTor bool) *TorCheck {
	return &TorCheck{lists: lists, blockVPNTor: blockVPNTor}
}

func (c *TorCheck) Name() string { return NameTor }

// Run may block briefly while a stale exit list refreshes; see
// threatlist.Store.IsTorExit.
func (c *TorCheck) Run(ctx context.Context, req Request) (models.SignalResult, error) {
	res := models.SignalResult{Check: NameTor, Performed: true}

	if c.lists.IsTorExit(ctx, req.IP) {
		res.Flagged = true
		res.Details = map[string]any{"torExitNode": true}
		if c.blockVPNTor {
			res.Score = torExitScore
		}
	}

	return res, nil
}
