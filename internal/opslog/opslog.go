package opslog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Sink writes one JSON line per core operation. Destination is "null"
// (disabled), "stdout", or a file path opened in append mode. Writes are
// mutex-guarded; nil fields are dropped before serialization.
type Sink struct {
	mu   sync.Mutex
	dest string
	file *os.File
}

// Event is one per-operation record. Zero-valued optional fields are
// omitted from the line.
type Event struct {
	Op         string
	Tenant     string
	Collection string
	LatencyMS  float64
	Status     string // ok | error
	ErrorCode  string
	RequestID  string
	Docid      string
	K          *int
	Hits       *int
	Chunks     *int
}

// New opens the sink. An empty, "null" or "none" destination disables it.
func New(dest string) (*Sink, error) {
	s := &Sink{}
	d := strings.ToLower(strings.TrimSpace(dest))
	if d == "" || d == "null" || d == "none" {
		return s, nil
	}
	s.dest = strings.TrimSpace(dest)
	if d == "stdout" {
		s.dest = "stdout"
		return s, nil
	}
	f, err := os.OpenFile(s.dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opslog.New: %w", err)
	}
	s.file = f
	return s, nil
}

// Enabled reports whether events reach any destination.
func (s *Sink) Enabled() bool { return s.dest != "" }

// Emit writes the event. No-op when disabled; write errors are swallowed
// so operational logging can never fail a request.
func (s *Sink) Emit(ev Event) {
	if s.dest == "" {
		return
	}

	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	payload := map[string]interface{}{
		"ts":         ts,
		"op":         ev.Op,
		"latency_ms": ev.LatencyMS,
		"status":     ev.Status,
	}
	if ev.Tenant != "" {
		payload["tenant"] = ev.Tenant
	}
	if ev.Collection != "" {
		payload["collection"] = ev.Collection
	}
	if ev.ErrorCode != "" {
		payload["error_code"] = ev.ErrorCode
	}
	if ev.RequestID != "" {
		payload["request_id"] = ev.RequestID
	}
	if ev.Docid != "" {
		payload["docid"] = ev.Docid
	}
	if ev.K != nil {
		payload["k"] = *ev.K
	}
	if ev.Hits != nil {
		payload["hits"] = *ev.Hits
	}
	if ev.Chunks != nil {
		payload["chunks"] = *ev.Chunks
	}

	line, err := json.Marshal(payload)
	if err != nil {
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dest == "stdout" {
		os.Stdout.Write(line)
		return
	}
	if s.file != nil {
		s.file.Write(line)
	}
}

// Close flushes and closes a file-backed sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Sync()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	s.dest = ""
	return err
}
