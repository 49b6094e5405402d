package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "puddlebot/pkg/logx"
)

// The file driver is the memory store plus a JSON snapshot that is rewritten
// through a temp file and rename on every change.
func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	data, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened",
		logx.String("path", path),
		logx.Int("players", len(data.Players)),
		logx.Int("cursor_players", len(data.Cursors)),
	)
	return &memoryStore{
		data:    data,
		persist: func(d *snapshot) error { return writeSnapshot(path, d) },
	}, nil
}

func loadSnapshot(path string) (*snapshot, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return newSnapshot(), nil
	}
	if err != nil {
		return nil, err
	}
	d := newSnapshot()
	if len(strings.TrimSpace(string(b))) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(b, d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if d.Players == nil {
		d.Players = map[string]Player{}
	}
	if d.Cursors == nil {
		d.Cursors = map[string]map[string]Cursor{}
	}
	return d, nil
}

func writeSnapshot(path string, d *snapshot) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
