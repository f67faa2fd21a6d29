package stage

import (
	"slices"
	"strings"
	"sync"

	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
)

const summaryLen = 160

// TraceLog collects the executor calls of one run. Safe for concurrent use.
type TraceLog struct {
	mu      sync.Mutex
	records []contracts.Trace
}

func NewTraceLog() *TraceLog { return &TraceLog{} }

func (l *TraceLog) Append(t contracts.Trace) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, t)
}

// Records returns a copy of the collected traces in append order.
func (l *TraceLog) Records() []contracts.Trace {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.records)
}

// summarize collapses whitespace and keeps summaries concise
func summarize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= summaryLen {
		return s
	}
	return string(r[:summaryLen]) + "..."
}
