// Package httpapi exposes the chat session service over HTTP/JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"personachat/internal/characters"
	"personachat/internal/metrics"
	"personachat/internal/session"
	"personachat/internal/upstream"
)

const maxBodyBytes = 1 << 20

type Sessions interface {
	CreateChat(ctx context.Context, in session.CreateChatInput) (session.ChatCreated, error)
	PostMessage(ctx context.Context, chatID, message string) (string, error)
	ListChats(ctx context.Context) []session.ChatSummary
	GetChat(ctx context.Context, chatID string) (session.ChatDetail, error)
	DeleteChat(ctx context.Context, chatID string) error
	ListCharacters(ctx context.Context) []characters.Character
	SelectCharacter(ctx context.Context, number int) (upstream.Selection, error)
}

type Handler struct {
	sessions Sessions
	validate *validator.Validate
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

type Config struct {
	Sessions Sessions
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

func New(cfg Config) *Handler {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	v := validator.New()
	// Report json field names in validation errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		sessions: cfg.Sessions,
		validate: v,
		logger:   cfg.Logger,
		metrics:  m,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	h.route(mux, "GET /api/chats", h.listChats)
	h.route(mux, "POST /api/chats", h.createChat)
	h.route(mux, "GET /api/chats/{id}", h.getChat)
	h.route(mux, "DELETE /api/chats/{id}", h.deleteChat)
	h.route(mux, "POST /api/chat", h.postMessage)
	h.route(mux, "GET /api/characters", h.listCharacters)
	h.route(mux, "POST /api/select_character", h.selectCharacter)
}

func (h *Handler) route(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, h.instrument(pattern, fn))
}

var errMalformedBody = errors.New("request body must be a JSON object")

// decode reads a JSON body into v and validates it. An empty body decodes
// as an empty object.
func (h *Handler) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errMalformedBody
	}
	return h.validate.Struct(v)
}

// validationMessage renders the first failed field as "<field> is required"
// or "<field> is invalid".
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return fe.Field() + " is required"
	}
	return fe.Field() + " is invalid"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
