package cache

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	jsonx "specpilot/internal/shared/json"
)

// WriteSnapshot writes entries as zstd-compressed JSON.
func WriteSnapshot[V any](w io.Writer, entries []Entry[V]) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := jsonx.NewEncoder(enc).Encode(entries); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return enc.Close()
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot.
func ReadSnapshot[V any](r io.Reader) ([]Entry[V], error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var entries []Entry[V]
	if err := jsonx.NewDecoder(dec).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return entries, nil
}

// SaveSnapshot exports c to path atomically.
func SaveSnapshot[V any](c *Cache[V], path string) (int, error) {
	entries := c.Export()
	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, entries); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return len(entries), nil
}

// LoadSnapshot imports the snapshot at path into c. A missing file is not an error.
func LoadSnapshot[V any](c *Cache[V], path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	entries, err := ReadSnapshot[V](f)
	if err != nil {
		return 0, err
	}
	return c.Import(entries), nil
}
