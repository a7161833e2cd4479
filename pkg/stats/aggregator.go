// Package stats buffers evaluation records, persists them into per-day
// JSON files, and serves rolling statistics over the recent sample.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reqshield/reqshield/pkg/models"
)

const (
	// bufferCapacity triggers an immediate flush when reached; the flush
	// timer covers quiet periods.
	bufferCapacity = 1000

	// sampleLimit bounds every statistics computation to the most recent
	// records, keeping Stats O(1) as day files grow.
	sampleLimit = 1000

	topListSize = 5

	dateLayout = "2006-01-02"
)

// Aggregator collects LogRecords in memory and flushes them to one JSON
// array file per day under its directory. It implements engine.Recorder.
//
// Persistence is best effort: a failed write is logged and the batch is
// dropped rather than stalling analysis.
type Aggregator struct {
	dir           string
	flushInterval time.Duration
	logger        *zap.Logger
	now           func() time.Time

	mu  sync.Mutex
	buf []models.LogRecord

	// flushMu serializes the read-merge-write cycle on day files.
	flushMu sync.Mutex
}

// New creates an aggregator writing day files under dir, creating the
// directory if needed.
func New(dir string, flushInterval time.Duration, logger *zap.Logger) (*Aggregator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &Aggregator{
		dir:           dir,
		flushInterval: flushInterval,
		logger:        logger.With(zap.String("component", "stats_aggregator")),
		now:           time.Now,
	}, nil
}

// Record buffers one evaluation. A full buffer flushes immediately.
func (a *Aggregator) Record(rec models.LogRecord) {
	a.mu.Lock()
	a.buf = append(a.buf, rec)
	full := len(a.buf) >= bufferCapacity
	a.mu.Unlock()

	if full {
		a.Flush()
	}
}

// Flush persists all buffered records into their day files. Safe to call
// concurrently; an empty buffer is a no-op.
func (a *Aggregator) Flush() {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	batch := a.buf
	a.buf = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	byDay := make(map[string][]models.LogRecord)
	for _, rec := range batch {
		day := rec.Timestamp.Format(dateLayout)
		byDay[day] = append(byDay[day], rec)
	}

	for day, recs := range byDay {
		if err := a.appendDay(day, recs); err != nil {
			a.logger.Warn("evaluation log flush failed",
				zap.String("file", a.dayPath(day)),
				zap.Int("records", len(recs)),
				zap.Error(err))
		}
	}
}

// Run flushes on the configured interval until ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Flush()
		}
	}
}

// Close drains the buffer. Call on shutdown after Run has stopped.
func (a *Aggregator) Close() {
	a.Flush()
}

// Stats computes the rolling summary over the recent sample (buffered
// records plus the current day's file, most recent sampleLimit entries).
func (a *Aggregator) Stats() models.Stats {
	recs := a.sample()

	st := models.Stats{
		TotalRequests:   len(recs),
		SampleSize:      len(recs),
		TopBlockReasons: []models.ReasonCount{},
		TopCountries:    []models.CountryCount{},
	}
	if len(recs) == 0 {
		return st
	}

	scoreSum := 0
	reasons := make(map[models.BlockReason]int)
	countries := make(map[string]int)
	hourAgo := a.now().Add(-time.Hour)

	for _, rec := range recs {
		scoreSum += rec.Analysis.RiskScore
		if rec.Analysis.Blocked {
			st.BlockedRequests++
			if rec.Analysis.Reason != "" {
				reasons[rec.Analysis.Reason]++
			}
		}
		if rec.Analysis.Country != "" {
			countries[rec.Analysis.Country]++
		}
		if rec.Timestamp.After(hourAgo) {
			st.LastHour++
		}
	}

	st.AllowedRequests = st.TotalRequests - st.BlockedRequests
	st.AvgRiskScore = math.Round(float64(scoreSum)/float64(len(recs))*100) / 100
	st.TopBlockReasons = topReasons(reasons)
	st.TopCountries = topCountries(countries)
	return st
}

// Recent returns up to limit records, newest first, from the recent
// sample. A non-positive limit defaults to 50; the cap is sampleLimit.
func (a *Aggregator) Recent(limit int) []models.LogRecord {
	if limit <= 0 {
		limit = 50
	}
	if limit > sampleLimit {
		limit = sampleLimit
	}

	recs := a.sample()
	if len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}

	out := make([]models.LogRecord, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		out = append(out, recs[i])
	}
	return out
}

// sample returns the current day's persisted records plus the live buffer,
// oldest first, capped to the most recent sampleLimit entries.
func (a *Aggregator) sample() []models.LogRecord {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	recs := a.loadDay(a.now().Format(dateLayout))

	a.mu.Lock()
	recs = append(recs, a.buf...)
	a.mu.Unlock()

	if len(recs) > sampleLimit {
		recs = recs[len(recs)-sampleLimit:]
	}
	return recs
}

func (a *Aggregator) appendDay(day string, recs []models.LogRecord) error {
	merged := append(a.loadDay(day), recs...)
	return a.writeDay(day, merged)
}

func (a *Aggregator) loadDay(day string) []models.LogRecord {
	data, err := os.ReadFile(a.dayPath(day))
	if err != nil {
		if !os.IsNotExist(err) {
			a.logger.Warn("evaluation log unreadable", zap.String("file", a.dayPath(day)), zap.Error(err))
		}
		return nil
	}

	var recs []models.LogRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		a.logger.Warn("evaluation log corrupted, starting fresh",
			zap.String("file", a.dayPath(day)),
			zap.Error(err))
		return nil
	}
	return recs
}

// writeDay replaces the day file atomically (write to temp, rename).
func (a *Aggregator) writeDay(day string, recs []models.LogRecord) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}

	path := a.dayPath(day)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (a *Aggregator) dayPath(day string) string {
	return filepath.Join(a.dir, day+".json")
}

func topReasons(counts map[models.BlockReason]int) []models.ReasonCount {
	out := make([]models.ReasonCount, 0, len(counts))
	for reason, count := range counts {
		out = append(out, models.ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > topListSize {
		out = out[:topListSize]
	}
	return out
}

func topCountries(counts map[string]int) []models.CountryCount {
	out := make([]models.CountryCount, 0, len(counts))
	for country, count := range counts {
		out = append(out, models.CountryCount{Country: country, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Country < out[j].Country
	})
	if len(out) > topListSize {
		out = out[:topListSize]
	}
	return out
}
