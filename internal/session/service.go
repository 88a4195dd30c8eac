package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"personachat/internal/audit"
	"personachat/internal/characters"
	"personachat/internal/conversation"
	"personachat/internal/metrics"
	"personachat/internal/storage"
	"personachat/internal/upstream"
)

const (
	titleLimit       = 30
	lastMessageLimit = 50
)

var (
	ErrChatNotFound  = errors.New("chat not found")
	ErrMissingChatID = errors.New("chat_id is required")
	ErrEmptyMessage  = errors.New("message is required")
	ErrRateLimited   = errors.New("too many messages for this chat, try again later")
)

type Store interface {
	LoadIndex() storage.Index
	SaveIndex(idx storage.Index) error
	LoadLog(chatID string) []storage.Message
	SaveLog(chatID string, msgs []storage.Message) error
	DeleteChat(chatID string) error
}

type Upstream interface {
	Generate(ctx context.Context, history []conversation.Turn, message string) upstream.Result
	ListCharacters(ctx context.Context) []characters.Character
	SelectCharacter(ctx context.Context, number int) (upstream.Selection, error)
	NotifySelection(ctx context.Context, id *int)
}

type Fallback interface {
	Reply(message string) string
}

type Auditor interface {
	LogAction(ctx context.Context, e audit.Entry) error
}

type Limiter interface {
	Allow(ctx context.Context, chatID string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error)
}

type Config struct {
	Store    Store
	Upstream Upstream
	Fallback Fallback
	// Auditor and Limiter are optional.
	Auditor Auditor
	Limiter Limiter
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	Now   func() time.Time
	NewID func() string

	ContextWindow    int
	FallbackDisabled bool
}

// Service owns the chat lifecycle. Index and log read-modify-write cycles
// run under mu; the upstream call does not.
type Service struct {
	mu sync.Mutex

	store    Store
	upstream Upstream
	fallback Fallback
	auditor  Auditor
	limiter  Limiter
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	now   func() time.Time
	newID func() string

	window          int
	fallbackEnabled bool
}

func New(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = conversation.DefaultWindow
	}
	return &Service{
		store:           cfg.Store,
		upstream:        cfg.Upstream,
		fallback:        cfg.Fallback,
		auditor:         cfg.Auditor,
		limiter:         cfg.Limiter,
		logger:          cfg.Logger,
		metrics:         m,
		now:             cfg.Now,
		newID:           cfg.NewID,
		window:          cfg.ContextWindow,
		fallbackEnabled: !cfg.FallbackDisabled,
	}
}

func (s *Service) audit(ctx context.Context, chatID, action string, meta any) {
	if s.auditor == nil {
		return
	}
	e := audit.Entry{ChatID: chatID, Action: action}
	if meta != nil {
		e.MetaJSON = audit.Meta(meta)
	}
	if err := s.auditor.LogAction(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Error().Err(err).Str("chat_id", chatID).Str("action", action).Msg("failed to write audit entry")
	}
}

// stamp returns now, clamped so it never precedes after.
func (s *Service) stamp(after time.Time) time.Time {
	now := s.now()
	if now.Before(after) {
		return after
	}
	return now
}

func (s *Service) ListCharacters(ctx context.Context) []characters.Character {
	return s.upstream.ListCharacters(ctx)
}

func (s *Service) SelectCharacter(ctx context.Context, number int) (upstream.Selection, error) {
	sel, err := s.upstream.SelectCharacter(ctx, number)
	if err != nil {
		s.logger.Warn().Err(err).Int("character_number", number).Msg("character selection failed")
		return upstream.Selection{}, err
	}
	s.audit(ctx, "", audit.ActionCharacterSelected, map[string]any{"character_number": number})
	return sel, nil
}
