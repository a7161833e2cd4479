package threatlist

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// Snapshot is one immutable published version of a threat list. A refresh
// builds a complete new snapshot and swaps it in; existing snapshots are
// never mutated, so readers need no locking once they hold one.
type Snapshot struct {
	ips       map[string]struct{}
	nets      []*net.IPNet
	source    string
	fetchedAt time.Time
}

func newSnapshot(source string, fetchedAt time.Time) *Snapshot {
	return &Snapshot{
		ips:       make(map[string]struct{}),
		source:    source,
		fetchedAt: fetchedAt,
	}
}

// add parses a single list entry (bare IP or CIDR) into the snapshot.
// Invalid entries are dropped.
func (s *Snapshot) add(entry string) {
	if strings.Contains(entry, "/") {
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			s.nets = append(s.nets, ipNet)
		}
		return
	}
	if ip := net.ParseIP(entry); ip != nil {
		s.ips[ip.String()] = struct{}{}
	}
}

// Contains reports whether the address matches an exact entry or falls
// inside one of the snapshot's ranges.
func (s *Snapshot) Contains(ipAddress string) bool {
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return false
	}
	if _, ok := s.ips[ip.String()]; ok {
		return true
	}
	for _, ipNet := range s.nets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// Len returns the number of entries (exact addresses plus ranges).
func (s *Snapshot) Len() int {
	return len(s.ips) + len(s.nets)
}

// Source returns the URL the snapshot was fetched from, or "builtin" for
// the seed fallback.
func (s *Snapshot) Source() string {
	return s.source
}

// FetchedAt returns when the snapshot was fetched. The zero time marks the
// builtin seed, which is always considered stale.
func (s *Snapshot) FetchedAt() time.Time {
	return s.fetchedAt
}

// parseList reads one entry per line, ignoring blank lines and "#" comments.
// Lines may carry trailing columns (IPsum-style "ip<TAB>count"); only the
// first field is used. An entirely empty payload is an error so that a
// broken source cannot wipe a previously good list.
func parseList(r io.Reader, source string, fetchedAt time.Time) (*Snapshot, error) {
	snap := newSnapshot(source, fetchedAt)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 0 {
			snap.add(fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if snap.Len() == 0 {
		return nil, fmt.Errorf("no entries parsed from %s", source)
	}

	return snap, nil
}

// seedSnapshot builds a snapshot from the builtin seed entries.
func seedSnapshot(entries []string) *Snapshot {
	snap := newSnapshot("builtin", time.Time{})
	for _, entry := range entries {
		snap.add(entry)
	}
	return snap
}
