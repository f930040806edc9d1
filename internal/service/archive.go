package service

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ArchiveRestoreResult acknowledges a restore.
type ArchiveRestoreResult struct {
	OK      bool   `json:"ok"`
	DataDir string `json:"data_dir"`
}

// DumpArchive writes a consistent point-in-time ZIP of the whole data
// directory while holding every known collection lock. With an empty
// outputPath a temp directory owns the archive and is returned for
// cleanup after the response streams out; otherwise tmpDir is empty.
func (s *Service) DumpArchive(outputPath string) (archivePath, tmpDir string, err error) {
	dataDir := s.Store.DataDir()
	if dataDir == "" {
		return "", "", E(CodeDataDirNotConfigured, "data directory is not configured")
	}
	if fi, statErr := os.Stat(dataDir); statErr != nil || !fi.IsDir() {
		return "", "", E(CodeDataDirNotFound, "data directory not found")
	}

	if outputPath == "" {
		tmpDir, err = os.MkdirTemp("", "patchvec_export_")
		if err != nil {
			return "", "", E(CodeArchiveDumpFailed, err.Error())
		}
		stamp := time.Now().UTC().Format("20060102T150405Z")
		outputPath = filepath.Join(tmpDir, fmt.Sprintf("patchvec-data-%s.zip", stamp))
	}

	release := s.Store.AcquireAllLocks()
	zipErr := writeZip(dataDir, outputPath)
	release()

	if zipErr != nil {
		if tmpDir != "" {
			os.RemoveAll(tmpDir)
		}
		return "", "", E(CodeArchiveDumpFailed, zipErr.Error())
	}
	return outputPath, tmpDir, nil
}

// RestoreArchive validates and unpacks an uploaded ZIP, then atomically
// swaps the data directory contents under the collection locks.
func (s *Service) RestoreArchive(content []byte) (ArchiveRestoreResult, error) {
	dataDir := s.Store.DataDir()
	if dataDir == "" {
		return ArchiveRestoreResult{}, E(CodeDataDirNotConfigured, "data directory is not configured")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return ArchiveRestoreResult{}, E(CodeArchiveRestoreFailed, err.Error())
	}

	// The temp area lives beside data_dir so the final moves are
	// same-filesystem renames.
	tmpDir, err := os.MkdirTemp(filepath.Dir(dataDir), ".patchvec_import_")
	if err != nil {
		return ArchiveRestoreResult{}, E(CodeArchiveRestoreFailed, err.Error())
	}
	defer os.RemoveAll(tmpDir)

	archivePath := filepath.Join(tmpDir, "patchvec-data.zip")
	if err := os.WriteFile(archivePath, content, 0o644); err != nil {
		return ArchiveRestoreResult{}, E(CodeArchiveRestoreFailed, err.Error())
	}

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return ArchiveRestoreResult{}, E(CodeArchiveInvalid, "not a valid zip archive")
	}
	if err := validateZipMembers(&reader.Reader); err != nil {
		reader.Close()
		return ArchiveRestoreResult{}, E(CodeArchiveInvalid, err.Error())
	}

	extractDir := filepath.Join(tmpDir, "extracted")
	if err := os.Mkdir(extractDir, 0o755); err != nil {
		reader.Close()
		return ArchiveRestoreResult{}, E(CodeArchiveRestoreFailed, err.Error())
	}
	if err := extractZip(&reader.Reader, extractDir); err != nil {
		reader.Close()
		return ArchiveRestoreResult{}, E(CodeArchiveRestoreFailed, err.Error())
	}
	reader.Close()

	release := s.Store.AcquireAllLocks()
	defer release()

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return ArchiveRestoreResult{}, E(CodeArchiveRestoreFailed, err.Error())
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dataDir, e.Name())); err != nil {
			return ArchiveRestoreResult{}, E(CodeArchiveRestoreFailed, err.Error())
		}
	}

	extracted, err := os.ReadDir(extractDir)
	if err != nil {
		return ArchiveRestoreResult{}, E(CodeArchiveRestoreFailed, err.Error())
	}
	for _, e := range extracted {
		src := filepath.Join(extractDir, e.Name())
		dst := filepath.Join(dataDir, e.Name())
		if err := os.Rename(src, dst); err != nil {
			return ArchiveRestoreResult{}, E(CodeArchiveRestoreFailed, err.Error())
		}
	}

	// Stale in-memory handles would shadow the restored tree.
	s.Store.DropHandles()

	abs, err := filepath.Abs(dataDir)
	if err != nil {
		abs = dataDir
	}
	return ArchiveRestoreResult{OK: true, DataDir: abs}, nil
}

// writeZip archives sourceDir into targetPath with posix paths, DEFLATE
// compression, and explicit entries for empty directories.
func writeZip(sourceDir, targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(targetPath)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)

	walkErr := filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		if d.IsDir() {
			entries, err := os.ReadDir(path)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				if _, err := zw.Create(name + "/"); err != nil {
					return err
				}
			}
			return nil
		}

		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})

	if cerr := zw.Close(); walkErr == nil {
		walkErr = cerr
	}
	if cerr := out.Close(); walkErr == nil {
		walkErr = cerr
	}
	if walkErr != nil {
		os.Remove(targetPath)
	}
	return walkErr
}

// validateZipMembers rejects absolute paths, leading separators, and ..
// components before anything touches the filesystem.
func validateZipMembers(r *zip.Reader) error {
	for _, member := range r.File {
		name := member.Name
		if name == "" {
			continue
		}
		if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
			return fmt.Errorf("invalid archive member: %s", name)
		}
		if filepath.IsAbs(name) || (len(name) > 1 && name[1] == ':') {
			return fmt.Errorf("invalid archive member: %s", name)
		}
		for _, part := range strings.Split(filepath.ToSlash(name), "/") {
			if part == ".." {
				return fmt.Errorf("invalid archive member: %s", name)
			}
		}
	}
	return nil
}

func extractZip(r *zip.Reader, dest string) error {
	for _, member := range r.File {
		if member.Name == "" {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(member.Name))
		if strings.HasSuffix(member.Name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := member.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}
