package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const maxRecord = 1 << 20

// FileStore keeps one JSON-lines file per world under Dir.
type FileStore struct {
	Dir    string
	Logger *zap.Logger
}

func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{Dir: dir, Logger: logger}, nil
}

func (s *FileStore) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

func (s *FileStore) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(s.Path(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Save writes the snapshot to a temporary file and renames it into place.
func (s *FileStore) Save(_ context.Context, name string, snap Snapshot) (err error) {
	tmp, err := os.CreateTemp(s.Dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	err = enc.Encode(snap.Header)
	for i := 0; err == nil && i < len(snap.Changes); i++ {
		err = enc.Encode(snap.Changes[i])
	}
	err = multierr.Combine(err, w.Flush(), tmp.Close())
	if err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	if err = os.Rename(tmp.Name(), s.Path(name)); err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	s.Logger.Debug("world saved", zap.String("path", s.Path(name)), zap.Int("changes", len(snap.Changes)))
	return nil
}

func (s *FileStore) Load(_ context.Context, name string) (Snapshot, error) {
	f, err := os.Open(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxRecord)
	var records [][]byte
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		records = append(records, bytes.Clone(line))
	}
	if err := sc.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(records) == 0 {
		return Snapshot{}, fmt.Errorf("reading %s: empty world file", name)
	}

	h, err := decodeHeader(records[0])
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading %s: %w", name, err)
	}
	return Snapshot{Header: h, Changes: decodeChanges(records[1:], s.Logger)}, nil
}
