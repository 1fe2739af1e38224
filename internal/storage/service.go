// Package storage архивирует завершенные сеансы интервью
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	DefaultResultsDir = "results"
	filePrefix        = "interview_"
)

// FileStore хранит каждый сеанс в отдельном JSON файле
type FileStore struct {
	dir string
}

// NewFileStore создает хранилище в каталоге dir
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DefaultResultsDir
	}
	return &FileStore{dir: dir}
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%s.json", filePrefix, sessionID))
}

// Save сохраняет результат интервью в JSON файл
func (s *FileStore) Save(_ context.Context, rec *SessionRecord) error {
	if rec.SessionID == "" || strings.ContainsAny(rec.SessionID, `/\`) {
		return fmt.Errorf("invalid session id %q", rec.SessionID)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", s.dir, err)
	}

	jsonData, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	// Запись через временный файл, чтобы не оставить обрезанный JSON
	target := s.path(rec.SessionID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0644); err != nil {
		return fmt.Errorf("write file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Load загружает результат интервью из JSON файла
func (s *FileStore) Load(_ context.Context, sessionID string) (*SessionRecord, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return &rec, nil
}

// List возвращает идентификаторы всех сохраненных сеансов
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read directory %s: %w", s.dir, err)
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || !strings.HasPrefix(name, filePrefix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) Close() error { return nil }
