package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/devblac/slot-scout/internal/config"
	"github.com/devblac/slot-scout/internal/metrics"
	"github.com/devblac/slot-scout/internal/sink"
	"github.com/devblac/slot-scout/internal/source/algorand"
	"github.com/devblac/slot-scout/internal/source/evm"
	"github.com/devblac/slot-scout/internal/storage"
	"github.com/google/uuid"
)

const defaultDedupeTTL = 24 * time.Hour

// Runner wires sources, predicates, dedupe, rate limits, and sinks for a single pass.
type Runner struct {
	store    *storage.Store
	sinks    map[string]sink.Sender
	rules    map[string]*ruleExec
	evmScan  map[string]*evm.Scanner
	algoScan map[string]*algorand.Scanner
	dryRun   bool
	nowFunc  func() time.Time
	newID    func() string
	log      *slog.Logger
	metrics  *metrics.Metrics
	targetTo uint64
}

// Event is a finding from any source in the shape rules and sinks consume.
type Event struct {
	RuleID   string
	Chain    string
	SourceID string
	Height   uint64
	Hash     string
	TxHash   string
	Subject  string
	Slot     string
	AppID    uint64
	Name     string
	Symbol   string
	Verified bool
}

// Args exposes the fields where-clauses can reference.
func (e Event) Args() map[string]any {
	return map[string]any{
		"name":     e.Name,
		"symbol":   e.Symbol,
		"subject":  e.Subject,
		"slot":     e.Slot,
		"chain":    e.Chain,
		"height":   e.Height,
		"app_id":   e.AppID,
		"verified": strconv.FormatBool(e.Verified),
	}
}

type ruleExec struct {
	rule    config.Rule
	preds   []Predicate
	ttl     time.Duration
	limiter *TokenBucket
}

// NewRunner builds a runner for the provided config and scanners.
func NewRunner(store *storage.Store, cfg *config.Config, evmScanners map[string]*evm.Scanner, algoScanners map[string]*algorand.Scanner, sinks map[string]sink.Sender, dryRun bool, to uint64) (*Runner, error) {
	rules := make(map[string]*ruleExec, len(cfg.Rules))
	for _, r := range cfg.Rules {
		preds, err := CompilePredicates(r.Match.Where)
		if err != nil {
			return nil, fmt.Errorf("rule %s predicates: %w", r.ID, err)
		}
		ttl := defaultDedupeTTL
		if r.Dedupe != nil && r.Dedupe.TTL != "" {
			if d, err := time.ParseDuration(r.Dedupe.TTL); err == nil && d > 0 {
				ttl = d
			}
		}
		exec := &ruleExec{rule: r, preds: preds, ttl: ttl}
		if r.RateLimit != nil {
			exec.limiter = NewTokenBucket(r.RateLimit.Capacity, r.RateLimit.PerSecond)
		}
		rules[r.ID] = exec
	}

	return &Runner{
		store:    store,
		sinks:    sinks,
		rules:    rules,
		evmScan:  evmScanners,
		algoScan: algoScanners,
		dryRun:   dryRun,
		nowFunc:  time.Now,
		newID:    uuid.NewString,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		targetTo: to,
	}, nil
}

// WithObservability attaches a logger and optional metrics.
func (r *Runner) WithObservability(log *slog.Logger, m *metrics.Metrics) *Runner {
	if log != nil {
		r.log = log
	}
	r.metrics = m
	return r
}

// RunOnce processes one eligible block/round per source.
func (r *Runner) RunOnce(ctx context.Context) error {
	for id, sc := range r.evmScan {
		done, err := r.reachedTarget(ctx, id)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		findings, err := sc.ProcessNext(ctx)
		if err != nil {
			if errors.Is(err, evm.ErrReorgDetected) {
				r.log.Warn("reorg detected, cursor rewound", "source", id)
				continue
			}
			return fmt.Errorf("evm source %s: %w", id, err)
		}
		r.metrics.BlocksScanned()
		evs := make([]Event, 0, len(findings))
		for _, f := range findings {
			evs = append(evs, Event{
				RuleID:   f.RuleID,
				Chain:    f.Chain,
				SourceID: f.SourceID,
				Height:   f.Height,
				Hash:     f.Hash,
				Subject:  f.Subject,
				Slot:     f.Slot,
				Name:     f.Pair.Name,
				Symbol:   f.Pair.Symbol,
				Verified: f.Verified,
			})
		}
		if err := r.handleEvents(ctx, evs); err != nil {
			return err
		}
	}

	for id, sc := range r.algoScan {
		done, err := r.reachedTarget(ctx, id)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		findings, err := sc.ProcessNext(ctx)
		if err != nil {
			if errors.Is(err, algorand.ErrReorgDetected) {
				r.log.Warn("reorg detected, cursor rewound", "source", id)
				continue
			}
			return fmt.Errorf("algorand source %s: %w", id, err)
		}
		r.metrics.BlocksScanned()
		evs := make([]Event, 0, len(findings))
		for _, f := range findings {
			evs = append(evs, Event{
				RuleID:   f.RuleID,
				Chain:    f.Chain,
				SourceID: f.SourceID,
				Height:   f.Height,
				Hash:     f.Hash,
				TxHash:   f.TxHash,
				Subject:  f.Subject,
				Slot:     f.Slot,
				AppID:    f.AppID,
				Name:     f.Pair.Name,
				Symbol:   f.Pair.Symbol,
			})
		}
		if err := r.handleEvents(ctx, evs); err != nil {
			return err
		}
	}

	return nil
}

// Done reports whether every source has reached the --to height.
func (r *Runner) Done(ctx context.Context) (bool, error) {
	if r.targetTo == 0 {
		return false, nil
	}
	ids := make([]string, 0, len(r.evmScan)+len(r.algoScan))
	for id := range r.evmScan {
		ids = append(ids, id)
	}
	for id := range r.algoScan {
		ids = append(ids, id)
	}
	for _, id := range ids {
		done, err := r.reachedTarget(ctx, id)
		if err != nil || !done {
			return false, err
		}
	}
	return true, nil
}

func (r *Runner) reachedTarget(ctx context.Context, sourceID string) (bool, error) {
	if r.targetTo == 0 {
		return false, nil
	}
	h, _, ok, err := r.store.GetCursor(ctx, sourceID)
	if err != nil {
		return false, err
	}
	return ok && h >= r.targetTo, nil
}

func (r *Runner) handleEvents(ctx context.Context, events []Event) error {
	for _, ev := range events {
		exec, ok := r.rules[ev.RuleID]
		if !ok {
			continue
		}
		r.metrics.PairsFound()
		pass, err := allPredicates(exec.preds, ev.Args())
		if err != nil || !pass {
			continue
		}
		now := r.nowFunc()
		dedupeKey := ""
		if exec.rule.Dedupe != nil {
			dedupeKey = buildDedupeKey(exec.rule.Dedupe.Key, ev)
			isDup, err := r.store.IsDuplicate(ctx, dedupeKey, now)
			if err != nil {
				return err
			}
			if isDup {
				r.metrics.FindingsDropped()
				continue
			}
		}
		if exec.limiter != nil && !exec.limiter.Allow(now) {
			r.metrics.FindingsDropped()
			r.log.Warn("rate limited", "rule", ev.RuleID, "subject", ev.Subject)
			continue
		}
		// Only admitted findings claim their dedupe key.
		if dedupeKey != "" {
			if err := r.store.MarkDedupe(ctx, dedupeKey, now.Add(exec.ttl)); err != nil {
				return err
			}
		}

		finding := storage.Finding{
			ID:        r.newID(),
			RuleID:    ev.RuleID,
			SourceID:  ev.SourceID,
			Subject:   ev.Subject,
			Height:    ev.Height,
			TxHash:    ev.TxHash,
			Name:      ev.Name,
			Symbol:    ev.Symbol,
			Verified:  ev.Verified,
			CreatedAt: now,
		}
		if err := r.store.InsertFinding(ctx, finding); err != nil {
			return err
		}
		r.log.Info("pair found", "rule", ev.RuleID, "subject", ev.Subject, "name", ev.Name, "symbol", ev.Symbol, "height", ev.Height)

		if r.dryRun {
			continue
		}
		for _, sinkID := range exec.rule.Sinks {
			s := r.sinks[sinkID]
			if s == nil {
				continue
			}
			rec := storage.Send{FindingID: finding.ID, SinkID: sinkID, Status: "ok", CreatedAt: r.nowFunc()}
			if err := s.Send(ctx, toSinkPayload(ev)); err != nil {
				// One failing sink does not hold back the others; the send row keeps the error.
				rec.Status = "error"
				rec.Error = err.Error()
				r.metrics.Errors()
				r.log.Error("sink send failed", "sink", sinkID, "rule", ev.RuleID, "error", err)
			} else {
				r.metrics.FindingsSent()
			}
			if err := r.store.InsertSend(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func allPredicates(preds []Predicate, args map[string]any) (bool, error) {
	for _, p := range preds {
		ok, err := p(args)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// buildDedupeKey expands subject, name, symbol, txhash and app_id in pattern.
func buildDedupeKey(pattern string, ev Event) string {
	if pattern == "" {
		pattern = "subject"
	}
	return strings.NewReplacer(
		"subject", ev.Subject,
		"symbol", ev.Symbol,
		"name", ev.Name,
		"txhash", ev.TxHash,
		"app_id", strconv.FormatUint(ev.AppID, 10),
	).Replace(pattern)
}

func toSinkPayload(ev Event) sink.FindingPayload {
	return sink.FindingPayload{
		RuleID:   ev.RuleID,
		Chain:    ev.Chain,
		SourceID: ev.SourceID,
		Height:   ev.Height,
		Hash:     ev.Hash,
		TxHash:   ev.TxHash,
		Subject:  ev.Subject,
		Slot:     ev.Slot,
		AppID:    ev.AppID,
		Name:     ev.Name,
		Symbol:   ev.Symbol,
		Verified: ev.Verified,
	}
}
