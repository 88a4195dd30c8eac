package storage

import (
	"bytes"
	"fmt"
	"time"
)

const (
	DefaultTitle         = "New Chat"
	DefaultCharacterName = "AI Assistant"
)

type ChatIndexEntry struct {
	Title             string    `json:"title"`
	CreatedAt         Timestamp `json:"created_at"`
	UpdatedAt         Timestamp `json:"updated_at"`
	CharacterID       *int      `json:"character_id"`
	CharacterName     string    `json:"character_name"`
	CharacterImage    string    `json:"character_image"`
	CharacterSelected bool      `json:"character_selected,omitempty"`
}

// Index maps chat id to its index entry.
type Index map[string]ChatIndexEntry

type Message struct {
	Content   string    `json:"content"`
	IsUser    bool      `json:"is_user"`
	Timestamp Timestamp `json:"timestamp"`
}

// Timestamp is an ISO-8601 instant. It is written as RFC 3339 and also
// accepts the zone-less form, which is read as local time.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func At(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(time.RFC3339Nano) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("timestamp must be a string, got %s", b)
	}
	raw := string(b[1 : len(b)-1])
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp %q", raw)
}
