// Package qa answers follow-up questions about a finished review.
package qa

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/bryanwahyu/contract-review/internal/application"
	"github.com/bryanwahyu/contract-review/internal/application/stage"
	"github.com/bryanwahyu/contract-review/internal/domain/ai"
	domain "github.com/bryanwahyu/contract-review/internal/domain/qa"
)

const DefaultMaxTurns = 6

// Service implements the Q&A use-cases. Safe for concurrent use.
type Service struct {
	Client      ai.Client
	Store       domain.Store
	Retry       *stage.Retrier
	Instruction ai.Instruction
	// MaxTurns bounds the history sent with each question.
	MaxTurns int
	Clock    application.Clock
	Logger   *slog.Logger

	locks sessionLocks
}

// sessionLocks serializes read-modify-write of one session for stores that
// cannot append atomically. Sessions hash onto a fixed set of mutexes.
type sessionLocks struct {
	mu [64]sync.Mutex
}

func (l *sessionLocks) forSession(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &l.mu[h.Sum32()%uint32(len(l.mu))]
}

// StartCommand opens a session on a completed review.
type StartCommand struct {
	TenantID     string
	ReviewID     string
	ContractText string
	Report       string
}

// Context is rendered by the instruction's user template.
type Context struct {
	ContractText string
	Report       string
}

func (s *Service) Start(ctx context.Context, cmd StartCommand) (*domain.Session, error) {
	if strings.TrimSpace(cmd.Report) == "" {
		return nil, domain.ErrNoReport
	}
	now := s.Clock.Now()
	session := &domain.Session{
		ID:           uuid.New().String(),
		TenantID:     cmd.TenantID,
		ReviewID:     cmd.ReviewID,
		ContractText: cmd.ContractText,
		Report:       cmd.Report,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Session, error) {
	return s.Store.Get(ctx, id)
}

// Ask answers question in the context of the session. The turn is appended
// only when the model answered; on failure the caller may ask again.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (domain.Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Turn{}, domain.ErrEmptyQuestion
	}
	session, err := s.Store.Get(ctx, sessionID)
	if err != nil {
		return domain.Turn{}, err
	}

	req, err := s.request(session, question)
	if err != nil {
		return domain.Turn{}, err
	}

	var answer string
	attempts, err := s.Retry.Do(ctx, func(ctx context.Context) error {
		out, err := s.Client.Complete(ctx, req)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return ai.ErrEmptyResponse
		}
		answer = strings.TrimSpace(out)
		return nil
	})
	if err != nil {
		s.logger().WarnContext(ctx, "qa turn failed",
			"session_id", sessionID, "attempts", attempts, "error", err)
		return domain.Turn{}, err
	}

	turn := domain.Turn{Question: question, Answer: answer, AskedAt: s.Clock.Now()}

	latest, err := s.appendTurn(ctx, sessionID, turn)
	if err != nil {
		return domain.Turn{}, err
	}
	s.logger().InfoContext(ctx, "qa turn answered",
		"session_id", sessionID, "attempts", attempts, "turns", len(latest.Turns))
	return turn, nil
}

// appendTurn adds turn to the stored session without losing turns appended
// concurrently. The model call happens before, outside any lock.
func (s *Service) appendTurn(ctx context.Context, sessionID string, turn domain.Turn) (*domain.Session, error) {
	if a, ok := s.Store.(domain.TurnAppender); ok {
		session, err := a.AppendTurn(ctx, sessionID, turn)
		if err != nil {
			return nil, fmt.Errorf("append turn: %w", err)
		}
		return session, nil
	}

	mu := s.locks.forSession(sessionID)
	mu.Lock()
	defer mu.Unlock()

	latest, err := s.Store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	latest.Append(turn)
	if err := s.Store.Save(ctx, latest); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return latest, nil
}

func (s *Service) request(session *domain.Session, question string) (ai.Request, error) {
	block, err := s.Instruction.Render(Context{ContractText: session.ContractText, Report: session.Report})
	if err != nil {
		return ai.Request{}, err
	}

	maxTurns := s.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	history := session.Recent(maxTurns)
	msgs := make([]ai.Message, 0, 2*len(history)+1)
	for _, t := range history {
		msgs = append(msgs,
			ai.Message{Role: ai.RoleUser, Content: t.Question},
			ai.Message{Role: ai.RoleAssistant, Content: t.Answer},
		)
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: question})

	return ai.Request{
		Name:     s.Instruction.Name,
		System:   s.Instruction.System + "\n\n" + block,
		Messages: msgs,
	}, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
