// internal/storage/file.go
package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/match"

	"github.com/user/recall/internal/types"
)

const (
	valueExt  = ".json"
	listExt   = ".jsonl"
	expiryIdx = "expiry.json"
)

// fileItem is one line of a list file. JSON values are embedded as-is so
// the files stay readable; anything else is base64 encoded.
type fileItem struct {
	Data json.RawMessage `json:"data,omitempty"`
	Bin  []byte          `json:"bin,omitempty"`
}

func encodeItem(v []byte) ([]byte, error) {
	if json.Valid(v) {
		return json.Marshal(fileItem{Data: v})
	}
	return json.Marshal(fileItem{Bin: v})
}

func decodeItem(line []byte) ([]byte, error) {
	var it fileItem
	if err := json.Unmarshal(line, &it); err != nil {
		return nil, err
	}
	if it.Data != nil {
		return []byte(it.Data), nil
	}
	if it.Bin == nil {
		return []byte{}, nil
	}
	return it.Bin, nil
}

// FileBackend stores each key as a file under root: values in <key>.json,
// lists in <key>.jsonl with one element per line. Keys are path-escaped.
// TTLs are kept in expiry.json and enforced when a key is read.
type FileBackend struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	expMu sync.Mutex
}

// NewFileBackend creates a file-backed store rooted at dir.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileBackend{root: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// getLock returns the per-key mutex, creating one if it doesn't exist.
func (f *FileBackend) getLock(key string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()

	if lock, ok := f.locks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	f.locks[key] = lock
	return lock
}

func (f *FileBackend) path(key, ext string) string {
	return filepath.Join(f.root, url.PathEscape(key)+ext)
}

// writeAtomic writes data to a temp file then renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (f *FileBackend) loadExpiry() (map[string]time.Time, error) {
	data, err := os.ReadFile(filepath.Join(f.root, expiryIdx))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]time.Time), nil
		}
		return nil, fmt.Errorf("read expiry index: %w", err)
	}
	exp := make(map[string]time.Time)
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("unmarshal expiry index: %w", err)
	}
	return exp, nil
}

func (f *FileBackend) updateExpiry(fn func(map[string]time.Time)) error {
	f.expMu.Lock()
	defer f.expMu.Unlock()

	exp, err := f.loadExpiry()
	if err != nil {
		return err
	}
	fn(exp)
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal expiry index: %w", err)
	}
	return writeAtomic(filepath.Join(f.root, expiryIdx), data)
}

func (f *FileBackend) setExpiry(key string, ttl time.Duration) error {
	return f.updateExpiry(func(exp map[string]time.Time) {
		if ttl > 0 {
			exp[key] = time.Now().Add(ttl)
		} else {
			delete(exp, key)
		}
	})
}

// live removes key if it has expired and reports whether it may be used.
// Caller must hold the key lock.
func (f *FileBackend) live(key string) (bool, error) {
	f.expMu.Lock()
	exp, err := f.loadExpiry()
	f.expMu.Unlock()
	if err != nil {
		return false, err
	}
	at, ok := exp[key]
	if !ok || time.Now().Before(at) {
		return true, nil
	}
	if err := f.removeFiles(key); err != nil {
		return false, err
	}
	return false, f.setExpiry(key, 0)
}

func (f *FileBackend) removeFiles(key string) error {
	for _, ext := range []string{valueExt, listExt} {
		if err := os.Remove(f.path(key, ext)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (f *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	lock := f.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	if ok, err := f.live(key); err != nil || !ok {
		if err == nil {
			err = types.ErrKeyNotFound
		}
		return nil, err
	}
	data, err := os.ReadFile(f.path(key, valueExt))
	if err != nil {
		if os.IsNotExist(err) {
			if exists(f.path(key, listExt)) {
				return nil, ErrWrongType
			}
			return nil, types.ErrKeyNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (f *FileBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	lock := f.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(f.path(key, listExt)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove list %s: %w", key, err)
	}
	if err := writeAtomic(f.path(key, valueExt), value); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return f.setExpiry(key, ttl)
}

func (f *FileBackend) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		lock := f.getLock(key)
		lock.Lock()
		err := f.removeFiles(key)
		if err == nil {
			err = f.setExpiry(key, 0)
		}
		lock.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *FileBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	f.expMu.Lock()
	exp, err := f.loadExpiry()
	f.expMu.Unlock()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	seen := make(map[string]bool)
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == expiryIdx {
			continue
		}
		var escaped string
		switch {
		case strings.HasSuffix(name, listExt):
			escaped = strings.TrimSuffix(name, listExt)
		case strings.HasSuffix(name, valueExt):
			escaped = strings.TrimSuffix(name, valueExt)
		default:
			continue
		}
		key, err := url.PathUnescape(escaped)
		if err != nil || seen[key] {
			continue
		}
		if at, ok := exp[key]; ok && !now.Before(at) {
			continue
		}
		if match.Match(key, pattern) {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *FileBackend) readList(key string) ([][]byte, error) {
	file, err := os.Open(f.path(key, listExt))
	if err != nil {
		if os.IsNotExist(err) {
			if exists(f.path(key, valueExt)) {
				return nil, ErrWrongType
			}
			return nil, nil
		}
		return nil, fmt.Errorf("open list %s: %w", key, err)
	}
	defer file.Close()

	var out [][]byte
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		v, err := decodeItem(line)
		if err != nil {
			return nil, fmt.Errorf("decode list %s line %d: %w", key, len(out)+1, err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan list %s: %w", key, err)
	}
	return out, nil
}

func encodeLines(values [][]byte) ([]byte, error) {
	var buf []byte
	for _, v := range values {
		line, err := encodeItem(v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return buf, nil
}

// LPush prepends values one at a time, so the last value ends up first.
// The list file is rewritten.
func (f *FileBackend) LPush(_ context.Context, key string, values ...[]byte) error {
	lock := f.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	if _, err := f.live(key); err != nil {
		return err
	}
	existing, err := f.readList(key)
	if err != nil {
		return err
	}
	all := make([][]byte, 0, len(values)+len(existing))
	for i := len(values) - 1; i >= 0; i-- {
		all = append(all, values[i])
	}
	all = append(all, existing...)
	data, err := encodeLines(all)
	if err != nil {
		return fmt.Errorf("encode list %s: %w", key, err)
	}
	return writeAtomic(f.path(key, listExt), data)
}

// RPush appends values to the end of the list file.
func (f *FileBackend) RPush(_ context.Context, key string, values ...[]byte) error {
	lock := f.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	if _, err := f.live(key); err != nil {
		return err
	}
	if exists(f.path(key, valueExt)) {
		return ErrWrongType
	}
	data, err := encodeLines(values)
	if err != nil {
		return fmt.Errorf("encode list %s: %w", key, err)
	}
	file, err := os.OpenFile(f.path(key, listExt), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open list %s: %w", key, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("append list %s: %w", key, err)
	}
	return file.Close()
}

func (f *FileBackend) LRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	lock := f.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	if ok, err := f.live(key); err != nil || !ok {
		return nil, err
	}
	list, err := f.readList(key)
	if err != nil {
		return nil, err
	}
	lo, hi, ok := listBounds(int64(len(list)), start, stop)
	if !ok {
		return nil, nil
	}
	return list[lo:hi], nil
}

func (f *FileBackend) LLen(ctx context.Context, key string) (int64, error) {
	list, err := f.LRange(ctx, key, 0, -1)
	return int64(len(list)), err
}

// Expire sets a TTL on an existing key. A non-positive ttl removes it.
func (f *FileBackend) Expire(_ context.Context, key string, ttl time.Duration) error {
	lock := f.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	if !exists(f.path(key, valueExt)) && !exists(f.path(key, listExt)) {
		return nil
	}
	return f.setExpiry(key, ttl)
}

func (f *FileBackend) Close() error { return nil }
