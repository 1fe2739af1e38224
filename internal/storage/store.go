package storage

import (
	"context"
	"fmt"
)

// Open создает хранилище по имени драйвера: file, sqlite или none
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "file":
		return NewFileStore(path), nil
	case "sqlite":
		if path == "" {
			path = "interviews.db"
		}
		return NewSQLiteStore(path)
	case "none":
		return nopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// nopStore ничего не сохраняет
type nopStore struct{}

func (nopStore) Save(context.Context, *SessionRecord) error { return nil }

func (nopStore) Load(context.Context, string) (*SessionRecord, error) { return nil, ErrNotFound }

func (nopStore) List(context.Context) ([]string, error) { return []string{}, nil }

func (nopStore) Close() error { return nil }
