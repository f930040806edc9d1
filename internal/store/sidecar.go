package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// loadJSONMap reads a JSON sidecar into a new mapping. A missing or unreadable file
// yields an empty mapping: sidecars are always recoverable state, never a
// reason to fail a request.
func loadJSONMap[V any](path string) map[string]V {
	out := map[string]V{}
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]V{}
	}
	return out
}

// saveJSONMap writes a JSON sidecar atomically: temp file in the same
// directory, fsync, rename. Readers never observe a partial write.
func saveJSONMap[V any](path string, data map[string]V) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: save %s: %w", path, err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("store: save %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, ".pv-*.tmp")
	if err != nil {
		return fmt.Errorf("store: save %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("store: save %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: save %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: save %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store: save %s: %w", path, err)
	}
	return nil
}

var chunkFileReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

// chunkFileName escapes a chunk id into its sidecar filename.
func chunkFileName(chunkID string) string {
	return chunkFileReplacer.Replace(chunkID) + ".txt"
}

// saveChunkText writes the raw UTF-8 chunk text. Single write then close;
// the content round-trips byte for byte, line endings included.
func saveChunkText(chunksDir, chunkID, text string) error {
	if err := os.MkdirAll(chunksDir, 0o755); err != nil {
		return fmt.Errorf("store: chunk sidecar: %w", err)
	}
	path := filepath.Join(chunksDir, chunkFileName(chunkID))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("store: chunk sidecar: %w", err)
	}
	return nil
}

// loadChunkText reads a chunk sidecar; ok reports whether it exists.
func loadChunkText(chunksDir, chunkID string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(chunksDir, chunkFileName(chunkID)))
	if err != nil {
		return "", false
	}
	return string(data), true
}
