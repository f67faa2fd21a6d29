package reviews

import (
	"errors"
	"time"

	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
)

// ReviewID identifier type
type ReviewID string

// Status enum
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

var ErrNotFound = errors.New("review not found")

// SeverityCounts value object
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Unknown  int `json:"unknown"`
	Total    int `json:"total"`
}

// CountsFrom tallies the risk findings of a state.
func CountsFrom(state *contracts.AnalysisState) SeverityCounts {
	var c SeverityCounts
	for sev, n := range state.SeverityCounts() {
		switch sev {
		case contracts.SeverityCritical:
			c.Critical += n
		case contracts.SeverityHigh:
			c.High += n
		case contracts.SeverityMedium:
			c.Medium += n
		case contracts.SeverityLow:
			c.Low += n
		default:
			c.Unknown += n
		}
		c.Total += n
	}
	return c
}

// Aggregate Root: Review, one pipeline run over one document
type Review struct {
	ID           ReviewID        `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Source       string          `json:"source"`
	TriggeredAt  time.Time       `json:"triggered_at"`
	Status       Status          `json:"status"`
	Stage        contracts.Stage `json:"stage"`
	ContractType string          `json:"contract_type,omitempty"`
	ClauseCount  int             `json:"clause_count"`
	Counts       SeverityCounts  `json:"counts"`
	ReportURL    string          `json:"report_url,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	StateJSON    string          `json:"-"` // serialized contracts.AnalysisState
}

// ReviewError represents a persisted failure of one run
type ReviewError struct {
	ID          int64     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	ReviewID    string    `json:"review_id"`
	Source      string    `json:"source,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	DetailsJSON string    `json:"details_json,omitempty"` // raw JSON string
	CreatedAt   time.Time `json:"created_at"`
}
