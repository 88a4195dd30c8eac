package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog"

	"personachat/internal/metrics"
)

const (
	indexFileName   = "chats.json"
	logFilePrefix   = "chat_"
	backupSuffix    = ".backup"
	filePermissions = 0o644
)

var (
	ErrInvalidChatID = errors.New("invalid chat id")

	chatIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
)

// Store keeps the chat index and one message log per chat as JSON files.
// Every write replaces the target by rename, so readers only ever see a
// complete file. A file that cannot be decoded is moved aside and read as
// empty.
type Store struct {
	dir     string
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

type Config struct {
	Dir     string
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("data dir is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Store{dir: cfg.Dir, logger: cfg.Logger, metrics: m}, nil
}

func ValidChatID(id string) bool {
	return chatIDRegex.MatchString(id)
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) IndexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

// LogPath is the message log location for a chat id. The id must already be
// validated.
func (s *Store) LogPath(chatID string) string {
	return filepath.Join(s.dir, logFilePrefix+chatID+".json")
}

// LoadIndex returns every entry of the index, including keys that cannot
// name a log file. Those are kept so a later SaveIndex writes them back;
// their logs read as empty and cannot be written.
func (s *Store) LoadIndex() Index {
	var idx Index
	if !s.readJSON(s.IndexPath(), &idx) || idx == nil {
		return Index{}
	}
	return idx
}

func (s *Store) SaveIndex(idx Index) error {
	if idx == nil {
		idx = Index{}
	}
	return s.writeJSON(s.IndexPath(), idx)
}

func (s *Store) LoadLog(chatID string) []Message {
	if !ValidChatID(chatID) {
		return []Message{}
	}
	var msgs []Message
	if !s.readJSON(s.LogPath(chatID), &msgs) || msgs == nil {
		return []Message{}
	}
	return msgs
}

func (s *Store) SaveLog(chatID string, msgs []Message) error {
	if !ValidChatID(chatID) {
		return fmt.Errorf("save log %q: %w", chatID, ErrInvalidChatID)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return s.writeJSON(s.LogPath(chatID), msgs)
}

// DeleteChat drops the index entry and the message log. Deleting an unknown
// chat succeeds.
func (s *Store) DeleteChat(chatID string) error {
	idx := s.LoadIndex()
	if _, ok := idx[chatID]; ok {
		delete(idx, chatID)
		if err := s.SaveIndex(idx); err != nil {
			return err
		}
	}
	if !ValidChatID(chatID) {
		return nil
	}
	if err := os.Remove(s.LogPath(chatID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove chat log: %w", err)
	}
	return nil
}

// readJSON decodes path into v. It reports false when the file is missing or
// had to be quarantined.
func (s *Store) readJSON(path string, v any) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false
		}
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to read data file")
		s.quarantine(path)
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to decode data file")
		s.quarantine(path)
		return false
	}
	return true
}

func (s *Store) quarantine(path string) {
	backup := path + backupSuffix
	if err := os.Rename(path, backup); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Error().Err(err).Str("path", path).Msg("failed to move corrupted file aside")
		}
		return
	}
	s.metrics.StorageQuarantined.Inc()
	s.logger.Warn().Str("path", path).Str("backup", backup).Msg("corrupted file moved aside")
}

func (s *Store) writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.metrics.StorageWriteFailure.Inc()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		s.metrics.StorageWriteFailure.Inc()
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Chmod(filePermissions); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

// LastUserMessage returns the most recent user message, cut to limit runes
// with an ellipsis when longer.
func LastUserMessage(msgs []Message, limit int) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsUser {
			return Truncate(msgs[i].Content, limit)
		}
	}
	return ""
}

func Truncate(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
