package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"stakeledger/internal/model"
)

// JSONLSink appends ledger events and rejected instructions to JSONL files.
type JSONLSink struct {
	eventsPath string
	errorsPath string
	mu         sync.Mutex
}

// NewJSONLSink builds a sink. An empty errorsPath drops rejected
// instructions.
func NewJSONLSink(eventsPath, errorsPath string) *JSONLSink {
	return &JSONLSink{eventsPath: eventsPath, errorsPath: errorsPath}
}

// PutEvents appends a batch of events as JSON lines.
func (s *JSONLSink) PutEvents(ctx context.Context, events []model.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}
	values := make([]any, 0, len(events))
	for _, ev := range events {
		values = append(values, ev)
	}
	return s.appendLines(s.eventsPath, values)
}

// PutErrors appends a batch of rejected instructions as JSON lines.
func (s *JSONLSink) PutErrors(ctx context.Context, rejected []model.InstructionError) error {
	if len(rejected) == 0 || s.errorsPath == "" {
		return nil
	}
	values := make([]any, 0, len(rejected))
	for _, rec := range rejected {
		values = append(values, rec)
	}
	return s.appendLines(s.errorsPath, values)
}

func (s *JSONLSink) appendLines(path string, values []any) error {
	if path == "" {
		return fmt.Errorf("output path is empty")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, value := range values {
		line, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
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
