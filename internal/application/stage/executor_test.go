package stage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"text/template"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/contract-review/internal/domain/ai"
	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
	"github.com/bryanwahyu/contract-review/internal/infra/ai/mock"
)

type greeting struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func (g *greeting) Validate() error {
	if g.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

var testInstruction = ai.Instruction{
	Name:   "greet",
	System: "You greet people.",
	User:   template.Must(template.New("greet").Parse("Greet {{.}}")),
}

// newTestRetrier records backoffs instead of sleeping.
func newTestRetrier(maxRetries int) (*Retrier, *[]time.Duration) {
	var slept []time.Duration
	r := NewRetrier(RetryConfig{MaxRetries: maxRetries, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond})
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return r, &slept
}

func TestExecuteDecodesResponse(t *testing.T) {
	client := mock.NewClient(mock.Sequence(mock.Response{Content: "```json\n{\"name\":\"Ada\",\"count\":2}\n```"}))
	retry, _ := newTestRetrier(3)
	traces := NewTraceLog()
	exec := NewExecutor(client, retry).WithTrace(traces)

	var out greeting
	err := exec.Execute(context.Background(), contracts.StageIntake, testInstruction, "Ada", &out)

	require.NoError(t, err)
	assert.Equal(t, greeting{Name: "Ada", Count: 2}, out)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].JSON)
	assert.Equal(t, "Greet Ada", calls[0].Messages[0].Content)

	records := traces.Records()
	require.Len(t, records, 1)
	assert.Equal(t, contracts.StageIntake, records[0].Stage)
	assert.Equal(t, "greet", records[0].Instruction)
	assert.Equal(t, 1, records[0].Attempts)
	assert.Empty(t, records[0].Error)
}

func TestExecuteCorrectsMalformedResponseOnce(t *testing.T) {
	client := mock.NewClient(mock.Sequence(
		mock.Response{Content: `{"count": 1}`},
		mock.Response{Content: `{"name": "Grace", "count": 1}`},
	))
	retry, _ := newTestRetrier(3)
	exec := NewExecutor(client, retry)

	var out greeting
	require.NoError(t, exec.Execute(context.Background(), contracts.StageIntake, testInstruction, "Grace", &out))
	assert.Equal(t, "Grace", out.Name)

	calls := client.Calls()
	require.Len(t, calls, 2)
	second := calls[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, ai.RoleAssistant, second[1].Role)
	assert.Contains(t, second[2].Content, "name is required")
}

func TestExecuteFailsAfterSecondMalformedResponse(t *testing.T) {
	client := mock.NewClient(mock.Sequence(
		mock.Response{Content: "sure, here you go"},
		mock.Response{Content: `{"name": ""}`},
	))
	retry, _ := newTestRetrier(3)
	traces := NewTraceLog()
	exec := NewExecutor(client, retry).WithTrace(traces)

	var out greeting
	err := exec.Execute(context.Background(), contracts.StageClauseExtraction, testInstruction, "x", &out)

	assert.ErrorIs(t, err, contracts.ErrMalformedResponse)
	assert.Len(t, client.Calls(), 2)
	assert.NotEmpty(t, traces.Records()[0].Error)
}

func TestExecuteRetriesUpstreamWithBackoff(t *testing.T) {
	boom := errors.New("503 service unavailable")
	client := mock.NewClient(func(ctx context.Context, req ai.Request) (string, error) {
		return "", boom
	})
	retry, slept := newTestRetrier(3)
	exec := NewExecutor(client, retry)

	var out greeting
	err := exec.Execute(context.Background(), contracts.StageRiskScoring, testInstruction, "x", &out)

	assert.ErrorIs(t, err, contracts.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, client.Calls(), 4)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, *slept)
}

func TestExecuteRecoversFromTransientFailure(t *testing.T) {
	client := mock.NewClient(mock.Sequence(
		mock.Response{Err: fmt.Errorf("wrapped: %w", ai.ErrQuotaExceeded)},
		mock.Response{Content: `{"name":"Linus"}`},
	))
	retry, slept := newTestRetrier(3)
	exec := NewExecutor(client, retry)

	var out greeting
	require.NoError(t, exec.Execute(context.Background(), contracts.StageIntake, testInstruction, "x", &out))
	assert.Len(t, *slept, 1)
}

func TestExecuteDoesNotRetryRejectedRequest(t *testing.T) {
	client := mock.NewClient(func(ctx context.Context, req ai.Request) (string, error) {
		return "", fmt.Errorf("%w (greet, status 401): invalid api key", ai.ErrRequestRejected)
	})
	retry, slept := newTestRetrier(3)
	exec := NewExecutor(client, retry)

	var out greeting
	err := exec.Execute(context.Background(), contracts.StageIntake, testInstruction, "x", &out)

	assert.ErrorIs(t, err, contracts.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, ai.ErrRequestRejected)
	assert.Len(t, client.Calls(), 1)
	assert.Empty(t, *slept)
}

func TestExecuteStopsWhenCancelled(t *testing.T) {
	client := mock.NewClient(mock.Sequence(mock.Response{Content: `{"name":"x"}`}))
	retry, _ := newTestRetrier(3)
	exec := NewExecutor(client, retry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out greeting
	err := exec.Execute(ctx, contracts.StageIntake, testInstruction, "x", &out)
	assert.ErrorIs(t, err, contracts.ErrCanceled)
	assert.Empty(t, client.Calls())
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                          `{"a":1}`,
		"```json\n{\"a\":1}\n```":          `{"a":1}`,
		"Here is the result: {\"a\":{}} ok": `{"a":{}}`,
		"no json here":                     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractJSON(in), in)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 5, BaseBackoff: time.Second, MaxBackoff: 5 * time.Second})
	assert.Equal(t, time.Second, r.Backoff(0))
	assert.Equal(t, 4*time.Second, r.Backoff(2))
	assert.Equal(t, 5*time.Second, r.Backoff(3))
	assert.Equal(t, 5*time.Second, r.Backoff(64))
}
