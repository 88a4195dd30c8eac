package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"personachat/internal/audit"
	"personachat/internal/conversation"
	"personachat/internal/storage"
	"personachat/internal/upstream"
)

// PostMessage appends the user message, asks the upstream service for a
// reply and appends that reply. Upstream failures never surface as errors:
// the caller gets a fallback reply (or the failure text when fallback is
// disabled) and the exchange is persisted either way.
func (s *Service) PostMessage(ctx context.Context, chatID, message string) (string, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "", ErrMissingChatID
	}
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	log := s.logger.With().Str("chat_id", chatID).Logger()

	s.mu.Lock()
	_, ok := s.store.LoadIndex()[chatID]
	s.mu.Unlock()
	if !ok {
		return "", ErrChatNotFound
	}
	if !storage.ValidChatID(chatID) {
		return "", storage.ErrInvalidChatID
	}

	if s.limiter != nil {
		allowed, used, resetAt, err := s.limiter.Allow(ctx, chatID, s.now())
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("rate limiter unavailable, allowing message")
		case !allowed:
			s.metrics.RateLimited.Inc()
			log.Info().Int64("used", used).Time("reset_at", resetAt).Msg("message rate limited")
			return "", ErrRateLimited
		}
	}

	s.mu.Lock()
	entry, ok := s.store.LoadIndex()[chatID]
	if !ok {
		s.mu.Unlock()
		return "", ErrChatNotFound
	}
	history := s.store.LoadLog(chatID)
	first := lo.CountBy(history, func(m storage.Message) bool { return m.IsUser }) == 0
	userMsg := storage.Message{
		Content:   message,
		IsUser:    true,
		Timestamp: storage.At(s.stamp(lastTimestamp(history))),
	}
	userSaved := true
	if err := s.store.SaveLog(chatID, append(history[:len(history):len(history)], userMsg)); err != nil {
		log.Error().Err(err).Msg("failed to save user message")
		userSaved = false
	}
	s.mu.Unlock()

	res := s.generate(ctx, history, entry.CharacterName, message)
	reply := res.Text
	if !res.OK() {
		ev := log.Warn().Str("result", res.Kind.String())
		if res.Err != nil {
			ev = ev.Err(res.Err)
		}
		if s.fallbackEnabled {
			reply = s.fallback.Reply(message)
			s.metrics.FallbackReplies.Inc()
			ev.Msg("upstream generation failed, using fallback reply")
		} else {
			reply = res.Sentinel()
			ev.Msg("upstream generation failed")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.store.LoadIndex()
	entry, ok = idx[chatID]
	if !ok {
		log.Info().Msg("chat deleted during generation, reply not persisted")
		return reply, nil
	}

	msgs := s.store.LoadLog(chatID)
	if !userSaved {
		msgs = append(msgs, userMsg)
	}
	now := s.stamp(lastTimestamp(msgs))
	msgs = append(msgs, storage.Message{Content: reply, IsUser: false, Timestamp: storage.At(now)})
	if err := s.store.SaveLog(chatID, msgs); err != nil {
		log.Error().Err(err).Msg("failed to save assistant reply")
	}

	if first {
		entry.Title = storage.Truncate(message, titleLimit)
	}
	if now.After(entry.UpdatedAt.Time) {
		entry.UpdatedAt = storage.At(now)
	}
	idx[chatID] = entry
	if err := s.store.SaveIndex(idx); err != nil {
		log.Error().Err(err).Msg("failed to save chat index")
	}

	s.metrics.MessagesPosted.Inc()
	s.audit(ctx, chatID, audit.ActionMessagePosted, map[string]any{
		"result":   res.Kind.String(),
		"fallback": !res.OK() && s.fallbackEnabled,
	})
	return reply, nil
}

// generate runs the upstream call detached from the caller's cancellation so
// a disconnecting client still gets its exchange persisted.
func (s *Service) generate(ctx context.Context, history []storage.Message, characterName, message string) (res upstream.Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("upstream generation panicked")
			res = upstream.Result{Kind: upstream.KindTransport, Err: fmt.Errorf("generation panicked: %v", r)}
		}
	}()
	turns := conversation.Build(history, characterName, s.window)
	return s.upstream.Generate(context.WithoutCancel(ctx), turns, message)
}

func lastTimestamp(msgs []storage.Message) time.Time {
	if len(msgs) == 0 {
		return time.Time{}
	}
	return msgs[len(msgs)-1].Timestamp.Time
}
