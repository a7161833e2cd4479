package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reqshield/reqshield/pkg/cache"
	"github.com/reqshield/reqshield/pkg/checks"
	"github.com/reqshield/reqshield/pkg/models"
)

// stubCheck is a scripted collector for pipeline tests.
type stubCheck struct {
	name   string
	result models.SignalResult
	err    error
	panics bool
	delay  time.Duration

	calls atomic.Int32
}

func (s *stubCheck) Name() string { return s.name }

func (s *stubCheck) Run(ctx context.Context, req checks.Request) (models.SignalResult, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.panics {
		panic("collector exploded")
	}
	if s.err != nil {
		return models.SignalResult{}, s.err
	}
	return s.result, nil
}

func signal(name string, score int, flagged bool) models.SignalResult {
	return models.SignalResult{Check: name, Performed: true, Score: score, Flagged: flagged}
}

type captureRecorder struct {
	mu   sync.Mutex
	recs []models.LogRecord
}

func (r *captureRecorder) Record(rec models.LogRecord) {
	r.mu.Lock()
	r.recs = append(r.recs, rec)
	r.mu.Unlock()
}

func (r *captureRecorder) records() []models.LogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.LogRecord(nil), r.recs...)
}

func newTestEngine(strict bool, stubs ...*stubCheck) (*Engine, *captureRecorder) {
	rec := &captureRecorder{}
	eng := New(cache.NewMemoryStore(time.Minute), rec, strict, nil)
	for _, s := range stubs {
		eng.AddCheck(s)
	}
	return eng, rec
}

func TestAnalyzeAggregatesSignals(t *testing.T) {
	geo := &stubCheck{name: checks.NameGeoIP, result: models.SignalResult{
		Check:     checks.NameGeoIP,
		Performed: true,
		Score:     30,
		Flagged:   true,
		Details:   map[string]any{"country": "RU"},
	}}
	ua := &stubCheck{name: checks.NameUserAgent, result: signal(checks.NameUserAgent, 15, true)}

	eng, rec := newTestEngine(false, geo, ua)
	analysis := eng.Analyze(context.Background(), "203.0.113.7", "curl/8.4.0")

	if analysis.RiskScore != 45 {
		t.Errorf("RiskScore = %d, want 45", analysis.RiskScore)
	}
	if analysis.RiskLevel != models.LevelMedium {
		t.Errorf("RiskLevel = %s, want MEDIUM", analysis.RiskLevel)
	}
	if analysis.Blocked {
		t.Error("Blocked = true, 45 is under the normal threshold")
	}
	if analysis.Reason != "" {
		t.Errorf("Reason = %q, want empty on an allowed analysis", analysis.Reason)
	}
	if analysis.Country != "RU" {
		t.Errorf("Country = %q, want RU from the geo signal", analysis.Country)
	}
	if len(analysis.Signals) != 2 {
		t.Fatalf("len(Signals) = %d, want 2", len(analysis.Signals))
	}
	if analysis.IP != "203.0.113.7" || analysis.UserAgent != "curl/8.4.0" {
		t.Errorf("source = (%q, %q)", analysis.IP, analysis.UserAgent)
	}

	recs := rec.records()
	if len(recs) != 1 {
		t.Fatalf("recorded %d evaluations, want 1", len(recs))
	}
	if recs[0].Analysis.RiskScore != 45 {
		t.Errorf("recorded RiskScore = %d, want 45", recs[0].Analysis.RiskScore)
	}
}

func TestAnalyzeClampsScore(t *testing.T) {
	tor := &stubCheck{name: checks.NameTor, result: signal(checks.NameTor, 80, true)}
	vpn := &stubCheck{name: checks.NameVPN, result: signal(checks.NameVPN, 60, true)}

	eng, _ := newTestEngine(false, tor, vpn)
	analysis := eng.Analyze(context.Background(), "203.0.113.7", "")

	if analysis.RiskScore != 100 {
		t.Errorf("RiskScore = %d, want clamped 100", analysis.RiskScore)
	}
	if analysis.RiskLevel != models.LevelHigh || !analysis.Blocked {
		t.Errorf("analysis = %+v, want blocked HIGH", analysis)
	}
	if analysis.Reason != models.ReasonTorExit {
		t.Errorf("Reason = %s, want TOR_EXIT_NODE", analysis.Reason)
	}
}

func TestThresholds(t *testing.T) {
	tests := []struct {
		name    string
		score   int
		strict  bool
		blocked bool
	}{
		{"normal just under", 69, false, false},
		{"normal at threshold", 70, false, true},
		{"strict just under", 39, true, false},
		{"strict at threshold", 40, true, true},
		{"strict mid band", 45, true, true},
		{"normal mid band", 45, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubCheck{name: checks.NameUserAgent, result: signal(checks.NameUserAgent, tt.score, true)}
			eng, _ := newTestEngine(tt.strict, stub)

			analysis := eng.Analyze(context.Background(), "203.0.113.7", "")
			if analysis.Blocked != tt.blocked {
				t.Errorf("Blocked = %v, want %v at score %d (strict=%v)",
					analysis.Blocked, tt.blocked, tt.score, tt.strict)
			}
		})
	}
}

func TestBlockReasonPriority(t *testing.T) {
	tests := []struct {
		name    string
		signals []models.SignalResult
		want    models.BlockReason
	}{
		{
			"tor outranks vpn",
			[]models.SignalResult{signal(checks.NameTor, 80, true), signal(checks.NameVPN, 60, true)},
			models.ReasonTorExit,
		},
		{
			"vpn outranks reputation",
			[]models.SignalResult{signal(checks.NameVPN, 60, true), signal(checks.NameReputation, 50, true)},
			models.ReasonVPNProxy,
		},
		{
			"reputation outranks plain score",
			[]models.SignalResult{signal(checks.NameReputation, 50, true), signal(checks.NameUserAgent, 35, true)},
			models.ReasonBadReputation,
		},
		{
			"accumulated score only",
			[]models.SignalResult{signal(checks.NameGeoIP, 30, true), signal(checks.NameUserAgent, 40, true)},
			models.ReasonHighRisk,
		},
		{
			"zero-scored tor flag does not drive the reason",
			[]models.SignalResult{signal(checks.NameTor, 0, true), signal(checks.NameUserAgent, 70, true)},
			models.ReasonHighRisk,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubs := make([]*stubCheck, 0, len(tt.signals))
			for _, sig := range tt.signals {
				stubs = append(stubs, &stubCheck{name: sig.Check, result: sig})
			}
			eng, _ := newTestEngine(false, stubs...)

			analysis := eng.Analyze(context.Background(), "203.0.113.7", "")
			if !analysis.Blocked {
				t.Fatalf("Blocked = false at score %d", analysis.RiskScore)
			}
			if analysis.Reason != tt.want {
				t.Errorf("Reason = %s, want %s", analysis.Reason, tt.want)
			}
		})
	}
}

func TestCollectorErrorFailsOpen(t *testing.T) {
	broken := &stubCheck{name: checks.NameReputation, err: errors.New("upstream timeout")}
	working := &stubCheck{name: checks.NameUserAgent, result: signal(checks.NameUserAgent, 20, true)}

	eng, _ := newTestEngine(false, broken, working)
	analysis := eng.Analyze(context.Background(), "203.0.113.7", "")

	if analysis.RiskScore != 20 {
		t.Errorf("RiskScore = %d, want 20 from the surviving collector", analysis.RiskScore)
	}
	if len(analysis.Signals) != 2 {
		t.Fatalf("len(Signals) = %d, want 2 including the skipped one", len(analysis.Signals))
	}

	skipped := analysis.Signal(checks.NameReputation)
	if skipped == nil {
		t.Fatal("skipped signal missing from the analysis")
	}
	if skipped.Performed || skipped.Score != 0 || skipped.Flagged {
		t.Errorf("skipped signal = %+v, want performed=false with zero contribution", skipped)
	}
}

func TestPanicFailsClosed(t *testing.T) {
	bomb := &stubCheck{name: checks.NameGeoIP, panics: true}
	eng, rec := newTestEngine(false, bomb)
	ctx := context.Background()

	analysis := eng.Analyze(ctx, "203.0.113.7", "")

	if analysis.RiskScore != 100 {
		t.Errorf("RiskScore = %d, want 100", analysis.RiskScore)
	}
	if !analysis.Blocked || analysis.RiskLevel != models.LevelHigh {
		t.Errorf("analysis = %+v, want blocked HIGH", analysis)
	}
	if analysis.Reason != models.ReasonAnalysisError {
		t.Errorf("Reason = %s, want ANALYSIS_ERROR", analysis.Reason)
	}
	if analysis.Signals == nil || len(analysis.Signals) != 0 {
		t.Errorf("Signals = %v, want empty non-nil slice", analysis.Signals)
	}

	// Failure verdicts must not be cached: the next call re-evaluates.
	eng.Analyze(ctx, "203.0.113.7", "")
	if got := bomb.calls.Load(); got != 2 {
		t.Errorf("collector ran %d times, want 2 (error analyses are not cached)", got)
	}
	if got := len(rec.records()); got != 2 {
		t.Errorf("recorded %d evaluations, want 2", got)
	}
}

func TestCacheReusesAnalysis(t *testing.T) {
	stub := &stubCheck{name: checks.NameUserAgent, result: signal(checks.NameUserAgent, 20, true)}
	eng, rec := newTestEngine(false, stub)
	ctx := context.Background()

	first := eng.Analyze(ctx, "203.0.113.7", "curl/8.4.0")
	second := eng.Analyze(ctx, "203.0.113.7", "curl/8.4.0")

	if first != second {
		t.Error("second call returned a new analysis, want the cached one")
	}
	if !first.AnalyzedAt.Equal(second.AnalyzedAt) {
		t.Errorf("AnalyzedAt differs: %v vs %v", first.AnalyzedAt, second.AnalyzedAt)
	}
	if got := stub.calls.Load(); got != 1 {
		t.Errorf("collector ran %d times, want 1", got)
	}
	if got := len(rec.records()); got != 1 {
		t.Errorf("recorded %d evaluations, want 1 (cache hits are not re-logged)", got)
	}

	// A different user agent is a different source.
	eng.Analyze(ctx, "203.0.113.7", "python-requests/2.28.0")
	if got := stub.calls.Load(); got != 2 {
		t.Errorf("collector ran %d times after new source, want 2", got)
	}
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	stub := &stubCheck{
		name:   checks.NameUserAgent,
		result: signal(checks.NameUserAgent, 20, true),
		delay:  50 * time.Millisecond,
	}
	eng, rec := newTestEngine(false, stub)
	ctx := context.Background()

	const callers = 8
	results := make([]*models.RiskAnalysis, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = eng.Analyze(ctx, "203.0.113.7", "curl/8.4.0")
		}(i)
	}
	wg.Wait()

	if got := stub.calls.Load(); got != 1 {
		t.Errorf("collector ran %d times for %d concurrent callers, want 1", got, callers)
	}
	if got := len(rec.records()); got != 1 {
		t.Errorf("recorded %d evaluations, want 1", got)
	}
	for i, res := range results {
		if res != results[0] {
			t.Errorf("caller %d got a different analysis", i)
		}
	}
}

func TestRecorderCapturesRequestContext(t *testing.T) {
	stub := &stubCheck{name: checks.NameUserAgent, result: signal(checks.NameUserAgent, 0, false)}
	eng, rec := newTestEngine(false, stub)

	eng.AnalyzeRequest(context.Background(), "203.0.113.7", "curl/8.4.0", "POST", "/login")

	recs := rec.records()
	if len(recs) != 1 {
		t.Fatalf("recorded %d evaluations, want 1", len(recs))
	}
	logged := recs[0]
	if logged.ID == "" {
		t.Error("record ID is empty")
	}
	if logged.Method != "POST" || logged.Path != "/login" {
		t.Errorf("record request = (%q, %q), want (POST, /login)", logged.Method, logged.Path)
	}
	wantKey := models.NewFingerprint("203.0.113.7", "curl/8.4.0").Key()
	if logged.Fingerprint != wantKey {
		t.Errorf("record fingerprint = %q, want %q", logged.Fingerprint, wantKey)
	}
	if logged.Timestamp.IsZero() {
		t.Error("record timestamp is zero")
	}
}

func TestEngineWithoutRecorder(t *testing.T) {
	eng := New(cache.NewMemoryStore(time.Minute), nil, false, nil)
	eng.AddCheck(&stubCheck{name: checks.NameUserAgent, result: signal(checks.NameUserAgent, 20, true)})

	analysis := eng.Analyze(context.Background(), "203.0.113.7", "")
	if analysis.RiskScore != 20 {
		t.Errorf("RiskScore = %d, want 20", analysis.RiskScore)
	}
}
