package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ammScope/internal/model"
)

const maxLineBytes = 1 << 20

// JsonlStorage appends records to a JSONL file.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

func (s *JsonlStorage) Path() string {
	return s.path
}

// PutSwapBatch appends swap records as JSON lines.
func (s *JsonlStorage) PutSwapBatch(ctx context.Context, records []model.SwapRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return appendLines(s, len(records), func(i int) any { return records[i] })
}

// PutLogBatch appends raw chain logs as JSON lines.
func (s *JsonlStorage) PutLogBatch(logs []model.LogRecord) error {
	return appendLines(s, len(logs), func(i int) any { return logs[i] })
}

// PutDecodeErrors appends logs that failed to decode.
func (s *JsonlStorage) PutDecodeErrors(errs []model.DecodeError) error {
	return appendLines(s, len(errs), func(i int) any { return errs[i] })
}

// PutWindows appends aggregated price windows. A window recomputed on a later
// run is appended again; readers keep the last line per window_start.
func (s *JsonlStorage) PutWindows(ctx context.Context, windows []model.PriceWindow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return appendLines(s, len(windows), func(i int) any { return windows[i] })
}

func appendLines(s *JsonlStorage, n int, item func(int) any) error {
	if n == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for i := 0; i < n; i++ {
		line, err := json.Marshal(item(i))
		if err != nil {
			return fmt.Errorf("marshal record %d: %w", i, err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// ReadSwaps returns records with fromTime <= timestamp <= toTime in file
// order. toTime == 0 means no upper bound. A missing file yields no records.
func (s *JsonlStorage) ReadSwaps(ctx context.Context, fromTime, toTime uint64) ([]model.SwapRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open swap file: %w", err)
	}
	defer file.Close()

	var out []model.SwapRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec model.SwapRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", s.path, line, err)
		}
		if rec.Timestamp < fromTime || (toTime != 0 && rec.Timestamp > toTime) {
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan swap file: %w", err)
	}
	return out, nil
}
