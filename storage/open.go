package storage

import (
	"fmt"
	"strings"
)

// Open returns the session store selected by backend ("json" or "sqlite").
// The returned close function releases backend resources and is never nil.
func Open(backend, sqlitePath, historyDir, project string) (SessionStore, func() error, error) {
	switch strings.ToLower(backend) {
	case "", "json":
		s, err := NewJSONDirStorage(historyDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	case "sqlite":
		s, err := OpenSqlite(sqlitePath, project)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
