package session

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/samber/lo"

	"personachat/internal/audit"
	"personachat/internal/characters"
	"personachat/internal/storage"
)

type CreateChatInput struct {
	CharacterID   *int
	CharacterName *string
}

type ChatCreated struct {
	ChatID         string `json:"chat_id"`
	CharacterID    *int   `json:"character_id"`
	CharacterName  string `json:"character_name"`
	CharacterImage string `json:"character_image"`
}

type ChatSummary struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	LastMessage    string            `json:"last_message"`
	CreatedAt      storage.Timestamp `json:"created_at"`
	UpdatedAt      storage.Timestamp `json:"updated_at"`
	CharacterName  string            `json:"character_name"`
	CharacterID    *int              `json:"character_id"`
	CharacterImage string            `json:"character_image"`
}

type ChatDetail struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Messages       []storage.Message `json:"messages"`
	CreatedAt      storage.Timestamp `json:"created_at"`
	UpdatedAt      storage.Timestamp `json:"updated_at"`
	CharacterName  string            `json:"character_name"`
	CharacterID    *int              `json:"character_id"`
	CharacterImage string            `json:"character_image"`
}

func (s *Service) CreateChat(ctx context.Context, in CreateChatInput) (ChatCreated, error) {
	name := characters.DefaultName
	if in.CharacterName != nil && strings.TrimSpace(*in.CharacterName) != "" {
		name = *in.CharacterName
	}
	image := characters.ImageFor(in.CharacterID)

	s.upstream.NotifySelection(ctx, in.CharacterID)

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	now := storage.At(s.now())
	idx := s.store.LoadIndex()
	idx[id] = storage.ChatIndexEntry{
		Title:             storage.DefaultTitle,
		CreatedAt:         now,
		UpdatedAt:         now,
		CharacterID:       in.CharacterID,
		CharacterName:     name,
		CharacterImage:    image,
		CharacterSelected: true,
	}

	log := s.logger.With().Str("chat_id", id).Logger()
	if err := s.store.SaveIndex(idx); err != nil {
		log.Error().Err(err).Msg("failed to save chat index")
	}
	if err := s.store.SaveLog(id, []storage.Message{}); err != nil {
		log.Error().Err(err).Msg("failed to save empty chat log")
	}

	s.metrics.ChatsCreated.Inc()
	log.Info().Str("character_name", name).Msg("chat created")
	s.audit(ctx, id, audit.ActionChatCreated, map[string]any{
		"character_id":   in.CharacterID,
		"character_name": name,
	})

	return ChatCreated{
		ChatID:         id,
		CharacterID:    in.CharacterID,
		CharacterName:  name,
		CharacterImage: image,
	}, nil
}

// ListChats returns every chat, most recently updated first.
func (s *Service) ListChats(ctx context.Context) []ChatSummary {
	idx := s.store.LoadIndex()
	out := lo.MapToSlice(idx, func(id string, entry storage.ChatIndexEntry) ChatSummary {
		msgs := s.store.LoadLog(id)
		return ChatSummary{
			ID:             id,
			Title:          displayTitle(entry),
			LastMessage:    storage.LastUserMessage(msgs, lastMessageLimit),
			CreatedAt:      entry.CreatedAt,
			UpdatedAt:      entry.UpdatedAt,
			CharacterName:  displayName(entry),
			CharacterID:    entry.CharacterID,
			CharacterImage: displayImage(entry),
		}
	})
	slices.SortFunc(out, func(a, b ChatSummary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (s *Service) GetChat(ctx context.Context, chatID string) (ChatDetail, error) {
	entry, ok := s.store.LoadIndex()[chatID]
	if !ok {
		return ChatDetail{}, ErrChatNotFound
	}
	return ChatDetail{
		ID:             chatID,
		Title:          displayTitle(entry),
		Messages:       s.store.LoadLog(chatID),
		CreatedAt:      entry.CreatedAt,
		UpdatedAt:      entry.UpdatedAt,
		CharacterName:  displayName(entry),
		CharacterID:    entry.CharacterID,
		CharacterImage: displayImage(entry),
	}, nil
}

// DeleteChat removes the chat if it exists. Unknown ids succeed.
func (s *Service) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteChat(chatID); err != nil {
		s.logger.Error().Err(err).Str("chat_id", chatID).Msg("failed to delete chat")
		return err
	}
	s.metrics.ChatsDeleted.Inc()
	s.audit(ctx, chatID, audit.ActionChatDeleted, nil)
	return nil
}

func displayTitle(e storage.ChatIndexEntry) string {
	if e.Title == "" {
		return storage.DefaultTitle
	}
	return e.Title
}

func displayName(e storage.ChatIndexEntry) string {
	if e.CharacterName == "" {
		return characters.DefaultName
	}
	return e.CharacterName
}

func displayImage(e storage.ChatIndexEntry) string {
	if e.CharacterImage == "" {
		return characters.DefaultImage
	}
	return e.CharacterImage
}
