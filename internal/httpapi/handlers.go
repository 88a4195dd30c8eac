package httpapi

import (
	"errors"
	"net/http"

	"personachat/internal/characters"
	"personachat/internal/session"
	"personachat/internal/storage"
)

type createChatRequest struct {
	CharacterID   *int    `json:"character_id" validate:"omitempty,gte=0"`
	CharacterName *string `json:"character_name" validate:"omitempty,max=200"`
}

type postMessageRequest struct {
	ChatID  string `json:"chat_id" validate:"required"`
	Message string `json:"message" validate:"required"`
}

type selectCharacterRequest struct {
	CharacterNumber *int `json:"character_number" validate:"required"`
}

func (h *Handler) listChats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]session.ChatSummary{"chats": h.sessions.ListChats(r.Context())})
}

func (h *Handler) createChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	created, err := h.sessions.CreateChat(r.Context(), session.CreateChatInput{
		CharacterID:   req.CharacterID,
		CharacterName: req.CharacterName,
	})
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (h *Handler) getChat(w http.ResponseWriter, r *http.Request) {
	detail, err := h.sessions.GetChat(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) deleteChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sessions.DeleteChat(r.Context(), id); err != nil {
		h.logger.Warn().Err(err).Str("chat_id", id).Msg("delete failed, reporting success")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	reply, err := h.sessions.PostMessage(r.Context(), req.ChatID, req.Message)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

func (h *Handler) listCharacters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]characters.Character{"characters": h.sessions.ListCharacters(r.Context())})
}

func (h *Handler) selectCharacter(w http.ResponseWriter, r *http.Request) {
	var req selectCharacterRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	sel, err := h.sessions.SelectCharacter(r.Context(), *req.CharacterNumber)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"selected_character": sel.SelectedCharacter,
		"message":            sel.Message,
	})
}

func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrMissingChatID), errors.Is(err, session.ErrEmptyMessage), errors.Is(err, storage.ErrInvalidChatID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrChatNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		h.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
