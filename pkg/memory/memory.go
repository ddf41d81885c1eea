// Package memory wires every other package in this module into the single
// write path the rest of the spec calls ContextManager: it owns
// memory/observations.md, memory/audit.jsonl, memory/anchor.json and
// memory/provenance.jsonl, and is the only component that ever calls
// ObservationLog.Append/Rewrite or AuditLog.Append. Observer and Reflector
// are pure computations over their inputs; ContextManager is what actually
// touches disk, under the per-resource FileLock, with a telemetry span
// around each Observer, Reflector, drift-check and run-step operation.
//
// Grounded in the teacher's pkg/kernel orchestration style (a single owning
// struct wiring independently testable components rather than a god
// package) and pkg/context/assembler.go's pattern of an Assembler that reads
// a backing store and renders a prompt.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vaultmind/core/pkg/anchor"
	"github.com/vaultmind/core/pkg/audit"
	"github.com/vaultmind/core/pkg/clock"
	"github.com/vaultmind/core/pkg/config"
	"github.com/vaultmind/core/pkg/contextbuilder"
	"github.com/vaultmind/core/pkg/filelock"
	"github.com/vaultmind/core/pkg/llm"
	"github.com/vaultmind/core/pkg/observationlog"
	"github.com/vaultmind/core/pkg/observer"
	"github.com/vaultmind/core/pkg/provenance"
	"github.com/vaultmind/core/pkg/ratelimit"
	"github.com/vaultmind/core/pkg/reflector"
	"github.com/vaultmind/core/pkg/runstate"
	"github.com/vaultmind/core/pkg/sanitizer"
	"github.com/vaultmind/core/pkg/schema"
	"github.com/vaultmind/core/pkg/telemetry"
	"github.com/vaultmind/core/pkg/tokenizer"
	"github.com/vaultmind/core/pkg/version"
)

const (
	observationsFile = "observations.md"
	auditFile        = "audit.jsonl"
	anchorFile       = "anchor.json"
	provenanceFile   = "provenance.jsonl"
)

// ContextManager is the caller-owned facade over the whole memory system
// (spec.md §9: "the source's module-level singletons become an explicit
// ContextManager owned by the caller; no process-wide state").
type ContextManager struct {
	mu sync.Mutex

	obsPath        string
	auditPath      string
	anchorPath     string
	provenancePath string
	runsDir        string

	clock     clock.Clock
	tokenizer tokenizer.Tokenizer
	telemetry *telemetry.Provider
	schema    *schema.Validator
	limiter   *ratelimit.Limiter
	resLock   *filelock.Lock

	observerThreshold  uint32
	reflectorThreshold uint32
	driftThreshold     float64

	observerComp  *observer.Observer
	reflectorComp *reflector.Reflector

	obsLog   *observationlog.Log
	auditLog *audit.Log
	anchor   anchor.Anchor
}

// Options groups the external collaborators a ContextManager needs beyond
// its on-disk configuration.
type Options struct {
	LLM        llm.Adapter
	Tokenizer  tokenizer.Tokenizer
	Clock      clock.Clock
	Telemetry  *telemetry.Provider
	InitialTask string // anchor text, used only the first time Open creates anchor.json
}

// Open loads (or initializes) the memory store at cfg.StoragePath. A fresh
// directory is created with mode 0700, explicitly chmod-ed after creation
// since the process umask can mask the mode passed to MkdirAll (spec.md §6).
// On first open (no audit records yet), observations.md is created if it
// does not exist and a single source=init audit record is written over the
// empty observation log (spec.md §8 scenario 1).
func Open(ctx context.Context, cfg *config.Config, opts Options) (*ContextManager, error) {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Tokenizer == nil {
		opts.Tokenizer = tokenizer.Approximate{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NoOp()
	}
	if opts.LLM == nil {
		return nil, fmt.Errorf("memory: Options.LLM is required")
	}

	if err := os.MkdirAll(cfg.StoragePath, 0o700); err != nil {
		return nil, fmt.Errorf("memory: mkdir %s: %w", cfg.StoragePath, err)
	}
	if err := os.Chmod(cfg.StoragePath, 0o700); err != nil {
		return nil, fmt.Errorf("memory: chmod %s: %w", cfg.StoragePath, err)
	}
	if err := os.MkdirAll(cfg.RunsPath, 0o700); err != nil {
		return nil, fmt.Errorf("memory: mkdir %s: %w", cfg.RunsPath, err)
	}
	if err := os.Chmod(cfg.RunsPath, 0o700); err != nil {
		return nil, fmt.Errorf("memory: chmod %s: %w", cfg.RunsPath, err)
	}

	obsPath := filepath.Join(cfg.StoragePath, observationsFile)
	auditPath := filepath.Join(cfg.StoragePath, auditFile)
	anchorPath := filepath.Join(cfg.StoragePath, anchorFile)
	provenancePath := filepath.Join(cfg.StoragePath, provenanceFile)

	obsLog, err := observationlog.Load(obsPath, opts.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("memory: load observation log: %w", err)
	}
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		return nil, fmt.Errorf("memory: open audit log: %w", err)
	}

	sv, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("memory: compile schemas: %w", err)
	}

	a, err := loadOrCreateAnchor(anchorPath, opts.InitialTask, opts.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("memory: load anchor: %w", err)
	}

	if err := checkProvenanceVersions(provenancePath); err != nil {
		return nil, err
	}

	cm := &ContextManager{
		obsPath:            obsPath,
		auditPath:          auditPath,
		anchorPath:         anchorPath,
		provenancePath:     provenancePath,
		runsDir:            cfg.RunsPath,
		clock:              opts.Clock,
		tokenizer:          opts.Tokenizer,
		telemetry:          opts.Telemetry,
		schema:             sv,
		limiter:            ratelimit.New(cfg.RateLimitPerMinute),
		resLock:            filelock.New(obsPath),
		observerThreshold:  cfg.ObserverThreshold,
		reflectorThreshold: cfg.ReflectorThreshold,
		driftThreshold:     cfg.AnchorDriftThreshold,
		observerComp:       observer.New(opts.LLM, sanitizer.New(cfg.MaxEntryChars)),
		reflectorComp:      reflector.New(opts.LLM),
		obsLog:             obsLog,
		auditLog:           auditLog,
		anchor:             a,
	}

	if _, has := auditLog.LastRecord(); !has {
		if err := cm.resLock.With(func() error {
			f, err := os.OpenFile(obsPath, os.O_CREATE|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			_, err = cm.auditLog.Append(audit.SourceInit, 0, cm.obsLog.RawBytes())
			return err
		}); err != nil {
			return nil, fmt.Errorf("memory: write init audit record: %w", err)
		}
	}

	return cm, nil
}

// Anchor returns the session's fixed task anchor.
func (cm *ContextManager) Anchor() anchor.Anchor {
	return cm.anchor
}

// VerifyIntegrity re-reads the observation log from disk and checks its
// hash against the audit chain head, surfacing audit.ErrTamperDetected if
// the file was modified outside this package's write path (spec.md §8
// scenario 3).
func (cm *ContextManager) VerifyIntegrity() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.verifyIntegrityLocked()
}

func (cm *ContextManager) verifyIntegrityLocked() error {
	fresh, err := observationlog.Load(cm.obsPath, cm.clock.Now())
	if err != nil {
		return fmt.Errorf("memory: reload observation log: %w", err)
	}
	// Verify against the literal bytes read from disk, not a re-rendered
	// parse of them: Render can normalize away an out-of-band mutation
	// (trailing whitespace, extra blank lines, a malformed trailing block),
	// which would defeat tamper-evidence. The write path always stores the
	// hash of exactly what RawBytes returns, since writeAtomic updates it
	// to the same bytes it just wrote.
	if err := cm.auditLog.Verify(fresh.RawBytes()); err != nil {
		return err
	}
	cm.obsLog = fresh
	return nil
}

// Entries returns the current observation set. Callers needing a
// guaranteed-fresh, tamper-checked view should call VerifyIntegrity first.
func (cm *ContextManager) Entries() []observationlog.Observation {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.obsLog.Entries()
}

// BuildContext renders the two-block prompt (spec.md §4.6) over the current
// observation set and the given rolling session messages.
func (cm *ContextManager) BuildContext(messages []contextbuilder.Message) string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return contextbuilder.Build(cm.obsLog.Entries(), cm.clock.Today(), messages)
}

// MaybeObserve runs the Observer pass and commits its output if
// bufferedTokens exceeds the configured threshold; it is a no-op (false,
// nil) otherwise. runSummary, if non-empty, becomes a trailing 🟢
// completion observation.
func (cm *ContextManager) MaybeObserve(ctx context.Context, bufferedTokens uint32, messages []observer.Message, runSummary string) (bool, error) {
	if !observer.ShouldFire(bufferedTokens, cm.observerThreshold) {
		return false, nil
	}

	ctx, end := cm.telemetry.StartSpan(ctx, "Observe")
	defer end.End()

	if err := cm.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("memory: rate limit: %w", err)
	}

	result, err := cm.observerComp.Run(ctx, messages, cm.clock.Now(), runSummary)
	if err != nil {
		return false, fmt.Errorf("memory: observer run: %w", err)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	err = cm.resLock.With(func() error {
		if err := cm.verifyIntegrityLocked(); err != nil {
			return err
		}
		// One audit record per appended observation (spec.md §8 scenario 2:
		// "audit has 3 records (init + 2 appends)"), not one record for the
		// whole Observer pass — the chain documents each write to the file.
		for _, o := range result.Observations {
			before := len(cm.obsLog.RawBytes())
			if err := cm.obsLog.Append(o); err != nil {
				return fmt.Errorf("memory: append observation: %w", err)
			}
			after := cm.obsLog.RawBytes()
			if _, err := cm.auditLog.Append(audit.SourceObserver, len(after)-before, after); err != nil {
				return fmt.Errorf("memory: append audit record: %w", err)
			}
			cm.telemetry.RecordAuditChainLength(ctx, 1)

			tag := observer.TagFor(o, cm.clock.Now())
			if err := cm.writeProvenance(tag); err != nil {
				return err
			}
			if strings.HasSuffix(o.Body, "[TRUNCATED]") {
				cm.telemetry.RecordTruncation(ctx)
			}
		}
		return nil
	})
	return true, err
}

// MaybeReflect runs the Reflector pass and commits its merged sequence if
// the observation log's token count exceeds the configured threshold. The
// safety guard path (spec.md §4.5 step 4) performs no file mutation at
// all — it only logs the skip — matching the tested invariant that file
// bytes and audit length are unchanged (spec.md §8 scenario 4).
func (cm *ContextManager) MaybeReflect(ctx context.Context) (bool, error) {
	cm.mu.Lock()
	logTokens := cm.obsLog.SizeTokens(cm.tokenizer.Count)
	cm.mu.Unlock()

	if !reflector.ShouldFire(logTokens, cm.reflectorThreshold) {
		return false, nil
	}

	ctx, end := cm.telemetry.StartSpan(ctx, "Reflect")
	defer end.End()

	if err := cm.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("memory: rate limit: %w", err)
	}

	cm.mu.Lock()
	current := cm.obsLog.Entries()
	cm.mu.Unlock()

	decision, err := cm.reflectorComp.Run(ctx, current, cm.clock.Now())
	if err != nil {
		return false, fmt.Errorf("memory: reflector run: %w", err)
	}

	if !decision.Applied {
		reason := decision.AbortReason
		if decision.SafetyGuardObs != nil {
			reason = decision.SafetyGuardObs.Body
		}
		cm.telemetry.RecordReflectorSkip(ctx, reason)
		return false, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	err = cm.resLock.With(func() error {
		if err := cm.verifyIntegrityLocked(); err != nil {
			return err
		}
		before := len(cm.obsLog.RawBytes())
		if err := cm.obsLog.Rewrite(decision.Observations); err != nil {
			return fmt.Errorf("memory: rewrite observation log: %w", err)
		}
		after := cm.obsLog.RawBytes()
		if _, err := cm.auditLog.Append(audit.SourceReflector, len(after)-before, after); err != nil {
			return fmt.Errorf("memory: append audit record: %w", err)
		}
		cm.telemetry.RecordAuditChainLength(ctx, 1)
		return nil
	})
	return true, err
}

// CheckDrift compares candidate against the session anchor and, if the
// overlap falls below the configured threshold, appends a 🔴 internal
// observation describing the drift under source=anchor (spec.md §4.7).
func (cm *ContextManager) CheckDrift(ctx context.Context, candidate string) (anchor.DriftWarning, bool, error) {
	ctx, end := cm.telemetry.StartSpan(ctx, "CheckDrift")
	defer end.End()

	warning, drifted := cm.anchor.CheckDrift(candidate, cm.driftThreshold)
	if !drifted {
		return warning, false, nil
	}
	cm.telemetry.RecordDriftWarning(ctx, warning.Overlap, warning.Threshold)

	cm.mu.Lock()
	defer cm.mu.Unlock()

	err := cm.resLock.With(func() error {
		if err := cm.verifyIntegrityLocked(); err != nil {
			return err
		}
		before := len(cm.obsLog.RawBytes())
		now := cm.clock.Today()
		obs := observationlog.Observation{
			Priority:   observationlog.PriorityRed,
			ObservedOn: now,
			EventDate:  now,
			Trust:      observationlog.TrustInternal,
			Body:       fmt.Sprintf("intent drift detected: overlap %.2f below threshold %.2f", warning.Overlap, warning.Threshold),
		}
		if err := cm.obsLog.Append(obs); err != nil {
			return fmt.Errorf("memory: append drift observation: %w", err)
		}
		after := cm.obsLog.RawBytes()
		_, err := cm.auditLog.Append(audit.SourceAnchor, len(after)-before, after)
		if err != nil {
			return fmt.Errorf("memory: append audit record: %w", err)
		}
		cm.telemetry.RecordAuditChainLength(ctx, 1)
		return nil
	})
	return warning, true, err
}

// OpenRun loads (or starts) the run-state checkpoint for runID, validating
// any existing on-disk JSON against the RunState schema first so a
// truncated or hand-edited file surfaces as a clear error rather than a
// panic or silently wrong zero value (SPEC_FULL §4.15).
func (cm *ContextManager) OpenRun(runID string) (*runstate.RunState, error) {
	path := filepath.Join(cm.runsDir, runID+".json")
	if raw, err := os.ReadFile(path); err == nil {
		if err := cm.schema.ValidateRunState(raw); err != nil {
			return nil, fmt.Errorf("memory: run state %s: %w", runID, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("memory: read run state %s: %w", runID, err)
	}
	return runstate.Load(cm.runsDir, runID)
}

// CompleteStep marks step done on rs, holding a lock sidecar scoped to
// that run's checkpoint file so concurrent processes resuming the same run
// never interleave writes, and wraps the call in a telemetry span.
func (cm *ContextManager) CompleteStep(ctx context.Context, rs *runstate.RunState, step string, result interface{}) error {
	_, end := cm.telemetry.StartSpan(ctx, "RunState.Complete")
	defer end.End()

	lock := filelock.New(filepath.Join(cm.runsDir, rs.RunID+".json"))
	return lock.With(func() error {
		return rs.Complete(step, result, cm.clock.Now())
	})
}

func (cm *ContextManager) writeProvenance(tag provenance.Tag) error {
	if err := version.Check(tag.SchemaVersion); err != nil {
		return fmt.Errorf("memory: provenance tag: %w", err)
	}
	raw, err := json.Marshal(tag)
	if err != nil {
		return fmt.Errorf("memory: marshal provenance tag: %w", err)
	}
	if err := cm.schema.ValidateProvenanceTag(raw); err != nil {
		return fmt.Errorf("memory: provenance tag: %w", err)
	}

	f, err := os.OpenFile(cm.provenancePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("memory: open provenance sidecar: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("memory: write provenance tag: %w", err)
	}
	return f.Sync()
}

func loadOrCreateAnchor(path, initialTask string, now time.Time) (anchor.Anchor, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		var a anchor.Anchor
		if err := json.Unmarshal(raw, &a); err != nil {
			return anchor.Anchor{}, fmt.Errorf("memory: corrupt anchor file %s: %w", path, err)
		}
		return a, nil
	}
	if !os.IsNotExist(err) {
		return anchor.Anchor{}, fmt.Errorf("memory: read anchor %s: %w", path, err)
	}

	a := anchor.New(initialTask, now)
	raw, err = json.MarshalIndent(a, "", "  ")
	if err != nil {
		return anchor.Anchor{}, fmt.Errorf("memory: marshal anchor: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return anchor.Anchor{}, fmt.Errorf("memory: write anchor: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return anchor.Anchor{}, fmt.Errorf("memory: rename anchor into place: %w", err)
	}
	return a, nil
}

func checkProvenanceVersions(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("memory: read provenance sidecar: %w", err)
	}
	var tag struct {
		SchemaVersion string `json:"schema_version"`
	}
	for _, line := range splitNonEmptyLines(raw) {
		if err := json.Unmarshal(line, &tag); err != nil {
			continue // malformed sidecar lines are MalformedEntry-class, not fatal
		}
		if err := version.Check(tag.SchemaVersion); err != nil {
			return fmt.Errorf("memory: provenance sidecar: %w", err)
		}
	}
	return nil
}

func splitNonEmptyLines(raw []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range raw {
		if b == '\n' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	if start < len(raw) {
		out = append(out, raw[start:])
	}
	return out
}
