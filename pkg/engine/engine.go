// Package engine runs the signal collectors against a request source,
// aggregates their contributions into a gated risk decision, and manages
// the analysis cache and evaluation log stream.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/reqshield/reqshield/pkg/cache"
	"github.com/reqshield/reqshield/pkg/checks"
	"github.com/reqshield/reqshield/pkg/models"
)

// Block thresholds. A score at or above the active threshold blocks.
const (
	normalBlockThreshold = 70
	strictBlockThreshold = 40
)

const maxRiskScore = 100

// Recorder consumes completed evaluations. Cache hits are not recorded;
// one record corresponds to one actual evaluation.
type Recorder interface {
	Record(rec models.LogRecord)
}

// Engine is the risk analysis pipeline.
//
// Behavior contract:
//   - Individual collector failures are absorbed: the signal is marked
//     skipped and the remaining collectors still run (fail open per
//     signal).
//   - A panic anywhere in the pipeline produces a blocked analysis with
//     score 100 and reason ANALYSIS_ERROR (fail closed per request).
//   - Results are cached by fingerprint key; within the TTL the same
//     source gets the identical analysis back without re-evaluation.
//   - Concurrent misses on the same fingerprint are coalesced; exactly
//     one evaluation runs and all callers share its result.
type Engine struct {
	checks   []checks.Check
	cache    cache.Store
	recorder Recorder
	strict   bool
	logger   *zap.Logger
	flight   singleflight.Group
}

// New creates an engine with the given cache, log recorder, and mode.
// recorder may be nil when no evaluation log is wanted. Collectors are
// added with AddCheck and run in insertion order.
func New(store cache.Store, recorder Recorder, strict bool, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		checks:   make([]checks.Check, 0),
		cache:    store,
		recorder: recorder,
		strict:   strict,
		logger:   logger.With(zap.String("component", "risk_engine")),
	}
}

// AddCheck appends a signal collector to the pipeline.
func (e *Engine) AddCheck(c checks.Check) {
	e.checks = append(e.checks, c)
}

// Analyze evaluates the (ip, userAgent) source and returns its analysis.
// It never fails: pipeline errors surface as a blocked ANALYSIS_ERROR
// analysis instead.
func (e *Engine) Analyze(ctx context.Context, ip, userAgent string) *models.RiskAnalysis {
	return e.AnalyzeRequest(ctx, ip, userAgent, "", "")
}

// AnalyzeRequest is Analyze with the gated request's method and path
// attached to the evaluation log record. Gating integrations use this;
// direct lookups leave method and path empty.
func (e *Engine) AnalyzeRequest(ctx context.Context, ip, userAgent, method, path string) *models.RiskAnalysis {
	fp := models.NewFingerprint(ip, userAgent)
	key := fp.Key()

	if cached, ok := e.cache.Get(ctx, key); ok {
		return cached
	}

	v, _, _ := e.flight.Do(key, func() (any, error) {
		// A coalesced caller may arrive after the winner already cached.
		if cached, ok := e.cache.Get(ctx, key); ok {
			return cached, nil
		}

		analysis := e.evaluate(ctx, fp)
		if analysis.Reason != models.ReasonAnalysisError {
			e.cache.Set(ctx, key, analysis)
		}
		e.record(key, method, path, analysis)
		return analysis, nil
	})

	return v.(*models.RiskAnalysis)
}

// evaluate runs every collector and derives the gated decision. Recovers
// from panics into a fail-closed analysis.
func (e *Engine) evaluate(ctx context.Context, fp models.Fingerprint) (analysis *models.RiskAnalysis) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("analysis pipeline panicked",
				zap.String("ip", fp.IP),
				zap.Any("panic", r))
			analysis = e.failClosed(fp)
		}
	}()

	req := checks.Request{IP: fp.IP, UserAgent: fp.UserAgent}
	signals := make([]models.SignalResult, 0, len(e.checks))
	total := 0

	for _, c := range e.checks {
		sig, err := c.Run(ctx, req)
		if err != nil {
			e.logger.Debug("signal collector skipped",
				zap.String("check", c.Name()),
				zap.String("ip", fp.IP),
				zap.Error(err))
			signals = append(signals, models.SignalResult{Check: c.Name()})
			continue
		}
		if sig.Check == "" {
			sig.Check = c.Name()
		}
		signals = append(signals, sig)
		total += sig.Score
	}

	score := clamp(total)
	level := models.LevelForScore(score)
	blocked := score >= e.threshold()

	analysis = &models.RiskAnalysis{
		IP:         fp.IP,
		UserAgent:  fp.UserAgent,
		RiskScore:  score,
		RiskLevel:  level,
		Blocked:    blocked,
		Country:    countryOf(signals),
		Signals:    signals,
		AnalyzedAt: time.Now(),
	}
	if blocked {
		analysis.Reason = blockReason(signals)
		e.logger.Info("request source blocked",
			zap.String("ip", fp.IP),
			zap.Int("score", score),
			zap.String("reason", string(analysis.Reason)))
	}

	e.logger.Debug("risk score calculated",
		zap.String("ip", fp.IP),
		zap.Int("score", score),
		zap.String("level", string(level)),
		zap.Bool("blocked", blocked),
		zap.Duration("duration", time.Since(start)))

	return analysis
}

// failClosed is the analysis returned when the pipeline itself failed.
// Never cached, so a transient fault does not stick for a full TTL.
func (e *Engine) failClosed(fp models.Fingerprint) *models.RiskAnalysis {
	return &models.RiskAnalysis{
		IP:         fp.IP,
		UserAgent:  fp.UserAgent,
		RiskScore:  maxRiskScore,
		RiskLevel:  models.LevelHigh,
		Blocked:    true,
		Reason:     models.ReasonAnalysisError,
		Signals:    []models.SignalResult{},
		AnalyzedAt: time.Now(),
	}
}

func (e *Engine) threshold() int {
	if e.strict {
		return strictBlockThreshold
	}
	return normalBlockThreshold
}

func (e *Engine) record(fingerprintKey, method, path string, analysis *models.RiskAnalysis) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(models.LogRecord{
		ID:          uuid.NewString(),
		Timestamp:   analysis.AnalyzedAt,
		Fingerprint: fingerprintKey,
		Method:      method,
		Path:        path,
		Analysis:    *analysis,
	})
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > maxRiskScore {
		return maxRiskScore
	}
	return score
}

// blockReason picks the most specific explanation for a block. Network
// identity signals outrank reputation, which outranks the plain
// accumulated score.
func blockReason(signals []models.SignalResult) models.BlockReason {
	if fired(signals, checks.NameTor) {
		return models.ReasonTorExit
	}
	if fired(signals, checks.NameVPN) {
		return models.ReasonVPNProxy
	}
	if fired(signals, checks.NameReputation) {
		return models.ReasonBadReputation
	}
	return models.ReasonHighRisk
}

// fired reports whether the named signal both matched and contributed
// points. A flagged match that scored zero (policy disabled) does not
// drive the reason.
func fired(signals []models.SignalResult, name string) bool {
	for _, sig := range signals {
		if sig.Check == name {
			return sig.Flagged && sig.Score > 0
		}
	}
	return false
}

func countryOf(signals []models.SignalResult) string {
	for _, sig := range signals {
		if sig.Check == checks.NameGeoIP {
			if country, ok := sig.Details["country"].(string); ok {
				return country
			}
			return ""
		}
	}
	return ""
}
