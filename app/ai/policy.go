package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/rss-digest/app/metrics"
)

const (
	ModeAuto  = "auto"
	ModeAI    = "ai"
	ModeRules = "rules"
)

// Policy selects between the AI-backed and rule-based evaluators. In auto
// mode, threshold consecutive AI failures switch to rules for the cooldown
// period, after which AI is tried again.
type Policy struct {
	mode      string
	client    Client
	ai        *AIEvaluator
	rules     *RuleEvaluator
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu            sync.Mutex
	failures      int
	disabledUntil time.Time
}

func NewPolicy(mode string, client Client, threshold int, cooldown time.Duration) (*Policy, error) {
	switch mode {
	case "":
		mode = ModeAuto
	case ModeAuto, ModeRules:
	case ModeAI:
		if client == nil {
			return nil, fmt.Errorf("evaluator mode %q requires an ai provider", mode)
		}
	default:
		return nil, fmt.Errorf("unknown evaluator mode %q", mode)
	}
	if threshold < 1 {
		threshold = 1
	}

	p := &Policy{
		mode:      mode,
		client:    client,
		rules:     NewRuleEvaluator(),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	if client != nil {
		p.ai = NewAIEvaluator(client)
	}
	return p, nil
}

func (p *Policy) Mode() string { return p.mode }

// Probe checks provider reachability. In auto mode an unreachable provider
// starts the cooldown immediately.
func (p *Policy) Probe(ctx context.Context) {
	if p.client == nil || p.mode != ModeAuto {
		return
	}
	if err := p.client.Ping(ctx); err != nil {
		p.mu.Lock()
		p.disabledUntil = p.now().Add(p.cooldown)
		p.mu.Unlock()
		slog.Warn("AI provider unreachable, using rule-based evaluation", "provider", p.client.Name(), "retry_after", p.cooldown.String(), "error", err)
		return
	}
	slog.Info("AI provider reachable", "provider", p.client.Name())
}

// Select returns the evaluator to use for the next article.
func (p *Policy) Select() Evaluator {
	ev := p.choose()
	for _, v := range []string{MethodAI, MethodRules} {
		active := 0.0
		if v == ev.Name() {
			active = 1
		}
		metrics.EvaluatorMode.WithLabelValues(v).Set(active)
	}
	return ev
}

func (p *Policy) choose() Evaluator {
	switch p.mode {
	case ModeRules:
		return p.rules
	case ModeAI:
		return p.ai
	}

	if p.ai == nil {
		return p.rules
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.now().Before(p.disabledUntil) {
		return p.rules
	}
	return p.ai
}

// AIAvailable reports whether AI-backed work should be attempted now.
func (p *Policy) AIAvailable() bool {
	return p.Select().Name() == MethodAI
}

func (p *Policy) ReportSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = 0
}

func (p *Policy) ReportFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures++
	if p.mode != ModeAuto || p.failures < p.threshold {
		return
	}

	p.disabledUntil = p.now().Add(p.cooldown)
	p.failures = 0
	slog.Warn("AI failure threshold reached, switching to rule-based evaluation",
		"threshold", p.threshold, "retry_after", p.cooldown.String(), "error", err)
}

// EvaluateBatch evaluates every article. In auto mode a failed AI call
// falls back to rules for that article. In ai mode an unavailable provider
// fails the whole batch with ErrUnavailable.
func (p *Policy) EvaluateBatch(ctx context.Context, articles []Article) ([]Decision, error) {
	decisions := make([]Decision, len(articles))

	for i, article := range articles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ev := p.Select()
		d, err := ev.Evaluate(ctx, article)
		if err == nil {
			if ev.Name() == MethodAI {
				p.ReportSuccess()
			}
			decisions[i] = d
			continue
		}

		p.ReportFailure(err)
		if p.mode == ModeAI {
			if errors.Is(err, ErrUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}

		slog.Warn("AI evaluation failed, using rules for item", "title", article.Title, "error", err)
		d, _ = p.rules.Evaluate(ctx, article)
		decisions[i] = d
	}

	return decisions, nil
}
