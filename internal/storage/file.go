package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "pindrop/pkg/logx"
)

// fileBackend is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic full snapshot)
//   - <prefix>.journal.jsonl (append-only journal of puts/deletes)
//
// The journal is replayed over the snapshot on open and periodically
// compacted back into it.
type fileBackend struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	entries      map[string][]byte

	writes       int
	compactEvery int
}

type journalRecord struct {
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	entries := map[string][]byte{}
	_ = loadSnapshot(snapPath, entries)
	_ = replayJournal(journalPath, entries)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileBackend{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		entries:      entries,
		compactEvery: 1000,
	}, nil
}

func (b *fileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.journalFile == nil {
		return nil
	}
	err := b.journalFile.Close()
	b.journalFile = nil
	return err
}

func (b *fileBackend) GetAll(ctx context.Context) (map[string][]byte, error) {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]byte, len(b.entries))
	for k, v := range b.entries {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

func (b *fileBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b *fileBackend) Put(ctx context.Context, key string, value []byte) error {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.journalFile == nil {
		return errors.New("journal closed")
	}

	if err := json.NewEncoder(b.journalFile).Encode(journalRecord{Key: key, Value: value}); err != nil {
		return err
	}
	b.entries[key] = append([]byte(nil), value...)

	b.writes++
	if b.writes%b.compactEvery == 0 {
		if err := b.compactLocked(); err != nil {
			b.log.Debug("compact failed", logx.Err(err))
		}
	}
	return nil
}

func (b *fileBackend) Delete(ctx context.Context, key string) (bool, error) {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.journalFile == nil {
		return false, errors.New("journal closed")
	}
	_, existed := b.entries[key]

	if err := json.NewEncoder(b.journalFile).Encode(journalRecord{Key: key, Deleted: true}); err != nil {
		return false, err
	}
	delete(b.entries, key)
	return existed, nil
}

func (b *fileBackend) Count(ctx context.Context) (int, error) {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries), nil
}

func (b *fileBackend) Maintain(ctx context.Context) error {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.compactLocked()
}

func (b *fileBackend) compactLocked() error {
	tmp := b.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(b.entries); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := b.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = b.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string][]byte) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string][]byte
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string][]byte) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r journalRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		if r.Deleted {
			delete(out, r.Key)
			continue
		}
		out[r.Key] = r.Value
	}
	return s.Err()
}
