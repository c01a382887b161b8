package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const historyFileExt = ".jsonl"

// historyMetadata is the first line of a history file
type historyMetadata struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// conversation is the cached state of one history file.
type conversation struct {
	key       string
	turns     []Turn
	createdAt time.Time
	updatedAt time.Time
}

// FileStore keeps each conversation in a JSONL file: one metadata line
// followed by one line per turn.
type FileStore struct {
	dir    string
	cache  map[string]*conversation
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewFileStore creates a file-backed store under dataDir/history.
func NewFileStore(dataDir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(dataDir, "history")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	return &FileStore{
		dir:    dir,
		cache:  make(map[string]*conversation),
		logger: logger.With("component", "history"),
	}, nil
}

// Load returns a copy of the conversation's turns.
func (s *FileStore) Load(key string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.get(key)
	if err != nil {
		return nil, err
	}
	return cloneTurns(conv.turns), nil
}

// Append adds turns to the end of the conversation and persists it.
func (s *FileStore) Append(key string, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.get(key)
	if err != nil {
		return err
	}
	conv.turns = append(conv.turns, turns...)
	conv.updatedAt = time.Now()
	return s.write(conv)
}

// Replace overwrites the conversation with turns and persists it.
func (s *FileStore) Replace(key string, turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.get(key)
	if err != nil {
		return err
	}
	conv.turns = cloneTurns(turns)
	conv.updatedAt = time.Now()
	return s.write(conv)
}

// Trim drops the n oldest turns.
func (s *FileStore) Trim(key string, n int) error {
	if n <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.get(key)
	if err != nil {
		return err
	}
	if n > len(conv.turns) {
		n = len(conv.turns)
	}
	conv.turns = cloneTurns(conv.turns[n:])
	conv.updatedAt = time.Now()
	return s.write(conv)
}

// Clear removes the conversation from cache and disk.
func (s *FileStore) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, key)

	if err := os.Remove(s.filePath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// List returns information about all stored conversations.
func (s *FileStore) List() ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), historyFileExt) {
			continue
		}

		conv, err := s.readFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable history file", "file", entry.Name(), "error", err)
			continue
		}
		if cached, ok := s.cache[conv.key]; ok {
			conv = cached
		}
		infos = append(infos, Info{
			Key:       conv.key,
			TurnCount: len(conv.turns),
			CreatedAt: conv.createdAt,
			UpdatedAt: conv.updatedAt,
		})
	}

	return infos, nil
}

// Close is a no-op; every mutation is written through.
func (s *FileStore) Close() error {
	return nil
}

// get returns the cached conversation, loading it from disk on first use.
// Caller must hold the write lock.
func (s *FileStore) get(key string) (*conversation, error) {
	if conv, ok := s.cache[key]; ok {
		return conv, nil
	}

	conv, err := s.readFile(s.filePath(key))
	switch {
	case err == nil:
	case os.IsNotExist(err):
		now := time.Now()
		conv = &conversation{key: key, createdAt: now, updatedAt: now}
	case errors.Is(err, ErrCorrupt):
		s.logger.Warn("history file corrupt, starting empty", "key", key, "error", err)
		now := time.Now()
		conv = &conversation{key: key, createdAt: now, updatedAt: now}
	default:
		return nil, err
	}

	conv.key = key
	s.cache[key] = conv
	return conv, nil
}

// write persists a conversation, replacing its file atomically.
func (s *FileStore) write(conv *conversation) error {
	path := s.filePath(conv.key)
	tmp := path + ".tmp"

	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create history file: %w", err)
	}

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)

	meta := historyMetadata{
		Key:       conv.key,
		CreatedAt: conv.createdAt,
		UpdatedAt: conv.updatedAt,
	}
	if err := enc.Encode(meta); err != nil {
		file.Close()
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	for _, turn := range conv.turns {
		if err := enc.Encode(turn); err != nil {
			file.Close()
			return fmt.Errorf("failed to write turn: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush history file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close history file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	return nil
}

// readFile decodes a history file. Malformed turn lines are skipped;
// a malformed metadata line makes the whole file corrupt.
func (s *FileStore) readFile(path string) (*conversation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil, fmt.Errorf("%w: empty file", ErrCorrupt)
	}

	var meta historyMetadata
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorrupt, err)
	}

	conv := &conversation{
		key:       meta.Key,
		turns:     make([]Turn, 0),
		createdAt: meta.CreatedAt,
		updatedAt: meta.UpdatedAt,
	}

	line := 1
	for scanner.Scan() {
		line++
		var turn Turn
		if err := json.Unmarshal(scanner.Bytes(), &turn); err != nil {
			s.logger.Warn("skipping malformed turn", "file", filepath.Base(path), "line", line, "error", err)
			continue
		}
		conv.turns = append(conv.turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return conv, nil
}

// filePath returns the file path for a conversation key
func (s *FileStore) filePath(key string) string {
	return filepath.Join(s.dir, safeKey(key)+historyFileExt)
}

// safeKey converts a conversation key to a safe filename
func safeKey(key string) string {
	key = strings.ReplaceAll(key, "\x00", "")
	key = strings.ReplaceAll(key, "..", "")
	key = strings.ReplaceAll(key, "/", "")
	key = strings.ReplaceAll(key, "\\", "")
	return strings.ReplaceAll(key, ":", "_")
}
