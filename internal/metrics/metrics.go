package metrics

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// LatencyWindow is the ring-buffer capacity per tracked operation.
const LatencyWindow = 1000

const metricsFile = "metrics.json"

// counterNames enumerates the persisted process counters.
var counterNames = []string{
	"requests_total",
	"collections_created_total",
	"collections_deleted_total",
	"collections_renamed_total",
	"documents_indexed_total",
	"documents_deleted_total",
	"chunks_indexed_total",
	"purge_total",
	"search_total",
	"matches_total",
	"errors_total",
}

// trackedOps are the operations with latency rings.
var trackedOps = []string{"search", "ingest"}

// Registry is the process-scoped metrics service: counters, last error,
// and per-op latency rings behind one mutex. A dirty flag drives the
// shutdown flush; a startup load restores persisted state.
type Registry struct {
	mu        sync.Mutex
	counters  map[string]float64
	lastError string
	latencies map[string][]float64
	started   time.Time
	dataDir   string
	dirty     bool
}

// New creates a Registry rooted at dataDir (empty disables persistence)
// and loads any persisted state.
func New(dataDir string) *Registry {
	r := &Registry{
		counters:  map[string]float64{},
		latencies: map[string][]float64{},
		started:   time.Now(),
		dataDir:   dataDir,
	}
	for _, name := range counterNames {
		r.counters[name] = 0
	}
	for _, op := range trackedOps {
		r.latencies[op] = nil
	}
	r.load()
	return r
}

func (r *Registry) path() string {
	if r.dataDir == "" {
		return ""
	}
	return filepath.Join(r.dataDir, metricsFile)
}

type persisted struct {
	Counters  map[string]float64   `json:"counters"`
	LastError string               `json:"last_error,omitempty"`
	Latencies map[string][]float64 `json:"latencies"`
}

func (r *Registry) load() {
	path := r.path()
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range p.Counters {
		if _, ok := r.counters[k]; ok {
			r.counters[k] = v
		}
	}
	r.lastError = p.LastError
	for op, samples := range p.Latencies {
		if len(samples) > LatencyWindow {
			samples = samples[len(samples)-LatencyWindow:]
		}
		r.latencies[op] = samples
	}
}

// save persists state atomically: temp file, fsync, rename. Errors are
// swallowed; metrics persistence never takes the service down.
func (r *Registry) save() {
	path := r.path()
	if path == "" {
		return
	}
	r.mu.Lock()
	p := persisted{
		Counters:  make(map[string]float64, len(r.counters)),
		LastError: r.lastError,
		Latencies: make(map[string][]float64, len(r.latencies)),
	}
	for k, v := range r.counters {
		p.Counters[k] = v
	}
	for op, samples := range r.latencies {
		p.Latencies[op] = append([]float64(nil), samples...)
	}
	r.dirty = false
	r.mu.Unlock()

	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	tmp, err := os.CreateTemp(dir, ".metrics-*.tmp")
	if err != nil {
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err == nil {
		if tmp.Sync() == nil && tmp.Close() == nil {
			_ = os.Rename(tmp.Name(), path)
			return
		}
	}
	tmp.Close()
}

// Flush persists only when state changed since the last save. Called at
// shutdown.
func (r *Registry) Flush() {
	r.mu.Lock()
	dirty := r.dirty
	r.mu.Unlock()
	if dirty {
		r.save()
	}
}

// Reset zeroes counters, clears latencies, resets the uptime baseline, and
// persists.
func (r *Registry) Reset() map[string]interface{} {
	r.mu.Lock()
	for k := range r.counters {
		r.counters[k] = 0
	}
	r.lastError = ""
	for op := range r.latencies {
		r.latencies[op] = nil
	}
	r.started = time.Now()
	r.mu.Unlock()
	r.save()
	return map[string]interface{}{"ok": true, "reset_at": float64(time.Now().UnixMilli()) / 1000.0}
}

// Inc adds value to a counter, creating it if unknown.
func (r *Registry) Inc(name string, value float64) {
	r.mu.Lock()
	r.counters[name] += value
	r.dirty = true
	r.mu.Unlock()
}

// SetError records the last error message and bumps errors_total.
func (r *Registry) SetError(msg string) {
	r.mu.Lock()
	r.lastError = msg
	r.counters["errors_total"]++
	r.dirty = true
	r.mu.Unlock()
}

// RecordLatency appends one sample to the op's ring, dropping the oldest
// past the window.
func (r *Registry) RecordLatency(op string, ms float64) {
	r.mu.Lock()
	samples := append(r.latencies[op], ms)
	if len(samples) > LatencyWindow {
		samples = samples[len(samples)-LatencyWindow:]
	}
	r.latencies[op] = samples
	r.dirty = true
	r.mu.Unlock()
}

// Timed runs fn and records its duration under op.
func (r *Registry) Timed(op string, fn func()) {
	start := time.Now()
	defer func() {
		r.RecordLatency(op, float64(time.Since(start).Microseconds())/1000.0)
	}()
	fn()
}

// Percentiles returns p50/p95/p99/count for an op.
func (r *Registry) Percentiles(op string) map[string]float64 {
	r.mu.Lock()
	samples := append([]float64(nil), r.latencies[op]...)
	r.mu.Unlock()
	if len(samples) == 0 {
		return map[string]float64{"p50": 0, "p95": 0, "p99": 0, "count": 0}
	}
	sort.Float64s(samples)
	return map[string]float64{
		"p50":   round2(percentile(samples, 50)),
		"p95":   round2(percentile(samples, 95)),
		"p99":   round2(percentile(samples, 99)),
		"count": float64(len(samples)),
	}
}

// percentile interpolates over a sorted sample set.
func percentile(sorted []float64, p float64) float64 {
	k := float64(len(sorted)-1) * p / 100
	f := int(k)
	c := f + 1
	if c >= len(sorted) {
		c = f
	}
	return sorted[f] + (k-float64(f))*(sorted[c]-sorted[f])
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Snapshot returns the flat metrics view: counters, uptime, last error,
// per-op percentiles, plus caller extras.
func (r *Registry) Snapshot(extra map[string]interface{}) map[string]interface{} {
	r.mu.Lock()
	out := make(map[string]interface{}, len(r.counters)+8+len(extra))
	for k, v := range r.counters {
		out[k] = v
	}
	out["uptime_seconds"] = time.Since(r.started).Seconds()
	if r.lastError != "" {
		out["last_error"] = r.lastError
	} else {
		out["last_error"] = nil
	}
	r.mu.Unlock()

	for _, op := range trackedOps {
		pcts := r.Percentiles(op)
		out[op+"_latency_p50_ms"] = pcts["p50"]
		out[op+"_latency_p95_ms"] = pcts["p95"]
		out[op+"_latency_p99_ms"] = pcts["p99"]
		out[op+"_latency_count"] = pcts["count"]
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

