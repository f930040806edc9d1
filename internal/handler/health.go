package handler

import (
	"net/http"
	"os"
	"path/filepath"
)

// readiness probes the two hard dependencies: a writable data_dir and an
// initializable engine. The reserved _system/health collection doubles as
// the startup warm-up target.
func (d Deps) readiness() map[string]interface{} {
	details := map[string]interface{}{
		"instance_name":       d.InstanceName,
		"instance_desc":       d.InstanceDesc,
		"data_dir":            d.Svc.Store.DataDir(),
		"vector_store":        d.VectorStoreType,
		"writable":            false,
		"vector_backend_init": false,
		"version":             d.Version,
	}

	dataDir := d.Svc.Store.DataDir()
	if err := os.MkdirAll(dataDir, 0o755); err == nil {
		probe := filepath.Join(dataDir, ".writetest")
		if err := os.WriteFile(probe, []byte("ok"), 0o644); err == nil {
			os.Remove(probe)
			details["writable"] = true
		} else {
			d.Svc.Metrics.SetError("fs: " + err.Error())
		}
	} else {
		d.Svc.Metrics.SetError("fs: " + err.Error())
	}

	if err := d.Svc.Store.LoadOrInit("_system", "health"); err == nil {
		details["vector_backend_init"] = true
	} else {
		d.Svc.Metrics.SetError("vec: " + err.Error())
	}

	details["ok"] = details["writable"] == true && details["vector_backend_init"] == true
	return details
}

// Health handles GET /health.
func Health(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		details := d.readiness()
		status := "ready"
		if details["ok"] != true {
			status = "degraded"
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"ok":       details["ok"],
			"status":   status,
			"instance": d.InstanceName,
			"version":  d.Version,
		})
	}
}

// HealthLive handles GET /health/live.
func HealthLive(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"ok": true, "status": "live", "version": d.Version,
		})
	}
}

// HealthReady handles GET /health/ready: the full detail payload, 503 when
// degraded.
func HealthReady(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		details := d.readiness()
		status := http.StatusOK
		if details["ok"] != true {
			status = http.StatusServiceUnavailable
		}
		respondJSON(w, status, details)
	}
}

// HealthMetrics handles GET /health/metrics: the JSON snapshot.
func HealthMetrics(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Svc.Metrics.Inc("requests_total", 1)
		respondJSON(w, http.StatusOK, d.Svc.Metrics.Snapshot(map[string]interface{}{
			"version":      d.Version,
			"vector_store": d.VectorStoreType,
			"auth":         d.AuthMode,
		}))
	}
}
