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
	"time"

	"liveactivity/pkg/logx"
)

// fileStore keeps the journal in <prefix>.journal.jsonl (append-only JSON
// Lines). Prune rewrites the file through a temp file and a rename.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
	f  *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{log: log, path: filepath.Join(dir, base) + ".journal.jsonl"}
	if err := s.reopenLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) reopenLocked() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Append(_ context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("journal file closed")
	}
	return json.NewEncoder(s.f).Encode(e)
}

func (s *fileStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	err := s.scanLocked(ctx, func(e Entry) {
		out = append(out, e)
		if len(out) > limit {
			out = out[1:]
		}
	})
	return out, err
}

func (s *fileStore) Prune(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, errors.New("journal file closed")
	}

	tmp := s.path + ".tmp"
	tf, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(tf)
	dropped := 0
	var werr error
	err = s.scanLocked(ctx, func(e Entry) {
		if werr != nil {
			return
		}
		if e.At.Before(before) {
			dropped++
			return
		}
		werr = enc.Encode(e)
	})
	if err == nil {
		err = werr
	}
	if cerr := tf.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if dropped == 0 {
		_ = os.Remove(tmp)
		return 0, nil
	}

	_ = s.f.Close()
	s.f = nil
	if err := os.Rename(tmp, s.path); err != nil {
		if rerr := s.reopenLocked(); rerr != nil {
			s.log.Warn("journal reopen failed", logx.Err(rerr))
		}
		return 0, err
	}
	return dropped, s.reopenLocked()
}

// scanLocked walks the journal in file order. Malformed lines are skipped.
func (s *fileStore) scanLocked(ctx context.Context, fn func(Entry)) error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		fn(e)
	}
	return sc.Err()
}
