package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"personachat/internal/characters"
	"personachat/internal/conversation"
)

func newTestClient(t *testing.T, h http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", Timeout: timeout, Logger: zerolog.Nop()})
}

func TestGenerateSuccess(t *testing.T) {
	var got generateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/generate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = io.WriteString(w, `{"generated_text": "Bonjour", "character": "Newton", "action": "(smiling)"}`)
	}, time.Second)

	history := []conversation.Turn{{Role: conversation.UserRole, Action: conversation.ActionSpeaking, Content: "earlier"}}
	res := c.Generate(context.Background(), history, "hello")
	if !res.OK() || res.Text != "Bonjour" {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Character != "Newton" || res.Action != "(smiling)" {
		t.Fatalf("unexpected metadata %+v", res)
	}
	if got.MaxNewTokens != 1024 || got.Temperature != 1.0 {
		t.Fatalf("unexpected generation params %+v", got)
	}
	if len(got.InputText) != 2 || got.InputText[1].Content != "hello" || got.InputText[1].Role != conversation.UserRole {
		t.Fatalf("unexpected turns %+v", got.InputText)
	}
}

func TestGenerateClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{name: "malformed json", status: http.StatusOK, body: "{oops", kind: KindParseError},
		{name: "missing text", status: http.StatusOK, body: `{"character": "x"}`, kind: KindEmpty},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", kind: KindBadStatus},
		{name: "validation error", status: http.StatusUnprocessableEntity, body: `{"detail": []}`, kind: KindBadStatus},
		{name: "not found", status: http.StatusNotFound, body: "", kind: KindBadStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}, time.Second)

			res := c.Generate(context.Background(), nil, "hi")
			if res.Kind != tc.kind {
				t.Fatalf("expected %s, got %s (err=%v)", tc.kind, res.Kind, res.Err)
			}
			if res.OK() {
				t.Fatalf("failure reported as ok")
			}
			if tc.kind == KindBadStatus && res.StatusCode != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, res.StatusCode)
			}
		})
	}
}

func TestGenerateTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	defer close(release)

	res := c.Generate(context.Background(), nil, "hi")
	if res.Kind != KindTimeout {
		t.Fatalf("expected timeout, got %s (err=%v)", res.Kind, res.Err)
	}
	if !strings.Contains(res.Sentinel(), "timed out") {
		t.Fatalf("unexpected sentinel %q", res.Sentinel())
	}
}

func TestGenerateConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := New(Config{BaseURL: base, Timeout: time.Second, Logger: zerolog.Nop()})
	res := c.Generate(context.Background(), nil, "hi")
	if res.Kind != KindTransport {
		t.Fatalf("expected transport failure, got %s", res.Kind)
	}
}

func TestSentinelForServerError(t *testing.T) {
	res := Result{Kind: KindBadStatus, StatusCode: 500}
	if !strings.Contains(res.Sentinel(), "character may need to be selected") {
		t.Fatalf("unexpected 500 sentinel %q", res.Sentinel())
	}
	res = Result{Kind: KindBadStatus, StatusCode: 503}
	if !strings.Contains(res.Sentinel(), "503") {
		t.Fatalf("sentinel should embed status code: %q", res.Sentinel())
	}
}

func TestListCharactersMapsRegistryImages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/characters" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"characters": [{"number": 1, "name": "Beethoven", "description": "composer"}, {"number": 77, "name": "Ghost", "description": "?"}]}`)
	}, time.Second)

	list := c.ListCharacters(context.Background())
	if len(list) != 2 {
		t.Fatalf("expected 2 characters, got %d", len(list))
	}
	if list[0].Image != "/images/characters/beethoven.png" || list[0].Description != "composer" {
		t.Fatalf("unexpected first character %+v", list[0])
	}
	if list[1].Image != characters.DefaultImage {
		t.Fatalf("unknown character should use default image, got %q", list[1].Image)
	}
}

func TestListCharactersFallsBackToDefaults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, time.Second)

	list := c.ListCharacters(context.Background())
	if len(list) != len(characters.DefaultCatalog()) || list[0].Name != characters.DefaultName {
		t.Fatalf("expected default catalog, got %+v", list)
	}
}

func TestSelectCharacter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["character_number"] != 4 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"selected_character": "Hermione", "message": "ok"}`)
	}, time.Second)

	sel, err := c.SelectCharacter(context.Background(), 4)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.SelectedCharacter != "Hermione" || sel.Message != "ok" {
		t.Fatalf("unexpected selection %+v", sel)
	}

	_, err = c.SelectCharacter(context.Background(), 5)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSelectCharacterUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := New(Config{BaseURL: base, Timeout: time.Second, Logger: zerolog.Nop()})
	if _, err := c.SelectCharacter(context.Background(), 1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	// Must not panic or block.
	c.NotifySelection(context.Background(), nil)
	one := 1
	c.NotifySelection(context.Background(), &one)
}
