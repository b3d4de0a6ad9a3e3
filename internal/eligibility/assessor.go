package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trial-eligibility/internal/cost"
	"github.com/sells-group/trial-eligibility/internal/model"
	"github.com/sells-group/trial-eligibility/internal/resilience"
	"github.com/sells-group/trial-eligibility/pkg/anthropic"
)

// Defaults applied when Config leaves a field unset.
const (
	DefaultModel     = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens = 4096
	DefaultTimeout   = 120 * time.Second
)

// AssessmentError reports a failed assessment. No partial result accompanies it.
type AssessmentError struct {
	Trial     string
	SessionID string
	Err       error
}

func (e *AssessmentError) Error() string {
	return fmt.Sprintf("eligibility: assess %s for %s: %v", e.SessionID, e.Trial, e.Err)
}

func (e *AssessmentError) Unwrap() error { return e.Err }

// Result is a completed assessment.
type Result struct {
	Assessment string
	Score      float64
	Status     model.EligibilityStatus
	Model      string
	Usage      anthropic.TokenUsage
}

// Percentage returns the score as a whole percentage.
func (r *Result) Percentage() int {
	return model.PercentFromScore(r.Score)
}

// Config controls the completion call.
type Config struct {
	Model     string
	MaxTokens int64
	Timeout   time.Duration
}

// Assessor runs eligibility assessments against the completion endpoint.
type Assessor struct {
	client  anthropic.Client
	cfg     Config
	breaker *resilience.CircuitBreaker
	costs   *cost.Calculator
}

// NewAssessor creates an Assessor. breaker and costs may be nil.
func NewAssessor(client anthropic.Client, cfg Config, breaker *resilience.CircuitBreaker, costs *cost.Calculator) *Assessor {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if costs == nil {
		costs = cost.NewCalculator(nil)
	}
	return &Assessor{client: client, cfg: cfg, breaker: breaker, costs: costs}
}

// Assess makes one completion call for in and parses the score.
func (a *Assessor) Assess(ctx context.Context, in Input) (*Result, error) {
	log := zap.L().With(
		zap.String("session_id", in.Patient.SessionID),
		zap.String("protocol_id", in.Trial.ProtocolID),
	)
	fail := func(err error) error {
		return &AssessmentError{Trial: in.Trial.ProtocolID, SessionID: in.Patient.SessionID, Err: err}
	}

	req := anthropic.MessageRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    []anthropic.SystemBlock{{Text: SystemPrompt}},
		Messages:  []anthropic.Message{{Role: "user", Content: BuildPrompt(in)}},
	}

	call := func(ctx context.Context) (*anthropic.MessageResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
		return a.client.CreateMessage(ctx, req)
	}

	start := time.Now()
	var (
		resp *anthropic.MessageResponse
		err  error
	)
	if a.breaker != nil {
		resp, err = resilience.Execute(ctx, a.breaker, call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		log.Error("eligibility: completion failed", zap.Error(err))
		return nil, fail(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fail(eris.New("eligibility: empty completion"))
	}

	a.costs.Log(a.cfg.Model, "assess", resp.Usage)

	res := &Result{
		Assessment: text,
		Score:      ParseScore(text),
		Status:     ParseStatus(text),
		Model:      resp.Model,
		Usage:      resp.Usage,
	}
	log.Info("eligibility: assessed",
		zap.Float64("score", res.Score),
		zap.String("status", string(res.Status)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
