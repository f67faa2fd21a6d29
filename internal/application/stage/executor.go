// Package stage runs one analysis stage: a templated model call whose answer
// is decoded and validated into a typed result.
package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/bryanwahyu/contract-review/internal/domain/ai"
	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
)

// Schema is the typed shape a stage expects from the model.
type Schema interface {
	Validate() error
}

// Executor executes stage instructions against the model. It is safe for
// concurrent use.
type Executor struct {
	client ai.Client
	retry  *Retrier
	traces *TraceLog
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Executor)

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(client ai.Client, retry *Retrier, opts ...Option) *Executor {
	e := &Executor{
		client: client,
		retry:  retry,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithTrace returns a copy of e that records its calls into t.
func (e *Executor) WithTrace(t *TraceLog) *Executor {
	cp := *e
	cp.traces = t
	return &cp
}

// Execute renders instr with input, calls the model and decodes the answer
// into out. A response that fails to decode or validate gets one corrective
// re-prompt before contracts.ErrMalformedResponse is returned.
func (e *Executor) Execute(ctx context.Context, stage contracts.Stage, instr ai.Instruction, input any, out Schema) error {
	start := e.now()
	prompt, err := instr.Render(input)
	if err != nil {
		return err
	}

	req := ai.Request{
		Name:     instr.Name,
		System:   instr.System,
		Messages: []ai.Message{{Role: ai.RoleUser, Content: prompt}},
		JSON:     true,
	}

	raw, attempts, err := e.call(ctx, req)
	if err == nil {
		if derr := decode(raw, out); derr != nil {
			e.logger.WarnContext(ctx, "stage response rejected, re-prompting",
				"stage", stage, "instruction", instr.Name, "error", derr)
			req.Messages = append(req.Messages,
				ai.Message{Role: ai.RoleAssistant, Content: raw},
				ai.Message{Role: ai.RoleUser, Content: corrective(derr)},
			)
			var n int
			raw, n, err = e.call(ctx, req)
			attempts += n
			if err == nil {
				if derr := decode(raw, out); derr != nil {
					err = fmt.Errorf("%w: %s: %w", contracts.ErrMalformedResponse, instr.Name, derr)
				}
			}
		}
	}

	e.record(ctx, contracts.Trace{
		Stage:           stage,
		Instruction:     instr.Name,
		PromptSummary:   summarize(prompt),
		ResponseSummary: summarize(raw),
		Latency:         e.now().Sub(start),
		Attempts:        attempts,
		At:              start,
	}, err)
	return err
}

func (e *Executor) call(ctx context.Context, req ai.Request) (string, int, error) {
	var raw string
	attempts, err := e.retry.Do(ctx, func(ctx context.Context) error {
		out, err := e.client.Complete(ctx, req)
		if err != nil {
			e.logger.DebugContext(ctx, "model call failed", "instruction", req.Name, "error", err)
			return err
		}
		raw = out
		return nil
	})
	return raw, attempts, err
}

func (e *Executor) record(ctx context.Context, t contracts.Trace, err error) {
	level := slog.LevelInfo
	if err != nil {
		t.Error = err.Error()
		level = slog.LevelWarn
	}
	if e.traces != nil {
		e.traces.Append(t)
	}
	e.logger.Log(ctx, level, "stage call",
		"stage", t.Stage,
		"instruction", t.Instruction,
		"attempts", t.Attempts,
		"latency_ms", t.Latency.Milliseconds(),
		"error", t.Error,
	)
}

func decode(raw string, out Schema) error {
	// stale fields from a rejected answer must not leak into the retry
	reflect.ValueOf(out).Elem().SetZero()
	body := ExtractJSON(raw)
	if body == "" {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return out.Validate()
}

func corrective(err error) string {
	return fmt.Sprintf("Your previous response could not be used: %v. "+
		"Respond again with a single valid JSON object that follows the schema exactly. "+
		"No markdown, no code fences, no commentary.", err)
}

// ExtractJSON strips code fences and surrounding prose from a model answer,
// returning the outermost JSON object.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
