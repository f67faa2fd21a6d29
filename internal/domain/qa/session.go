// Package qa holds the follow-up question sessions opened on a finished review.
package qa

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	ErrNotFound      = errors.New("qa session not found")
	ErrEmptyQuestion = errors.New("question is empty")
	ErrNoReport      = errors.New("review has no report")
)

// Turn is one answered question.
type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// Session references a contract and its final report and accumulates turns.
type Session struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id,omitempty"`
	ReviewID     string    `json:"review_id,omitempty"`
	ContractText string    `json:"contract_text"`
	Report       string    `json:"report"`
	Turns        []Turn    `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *Session) Append(t Turn) {
	s.Turns = append(s.Turns, t)
	s.UpdatedAt = t.AskedAt
}

// Recent returns a copy of the last n turns, oldest first. n <= 0 means all.
func (s *Session) Recent(n int) []Turn {
	turns := s.Turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return slices.Clone(turns)
}

// Store persists sessions between requests.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// TurnAppender is implemented by stores that can append a turn to the stored
// session in one atomic step.
type TurnAppender interface {
	AppendTurn(ctx context.Context, id string, t Turn) (*Session, error)
}
