// ABOUTME: Backup and atomic-write helpers for flat-file documents
// ABOUTME: Every overwrite is preceded by a timestamped backup copy

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BackupSuffix separates a document name from its backup timestamp.
const BackupSuffix = ".backup."

// Backup copies path to <path>.backup.<unix>. A missing source is not an
// error and yields an empty backup path.
func Backup(path string, now time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s for backup: %w", path, err)
	}
	backupPath := fmt.Sprintf("%s%s%d", path, BackupSuffix, now.Unix())
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("writing backup %s: %w", backupPath, err)
	}
	return backupPath, nil
}

// ListBackups returns backup paths for path, oldest first.
func ListBackups(path string) ([]string, error) {
	matches, err := filepath.Glob(path + BackupSuffix + "*")
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	sort.Slice(matches, func(i, j int) bool {
		return backupStamp(matches[i]) < backupStamp(matches[j])
	})
	return matches, nil
}

// PruneBackups removes all but the newest keep backups of path.
// keep <= 0 disables pruning.
func PruneBackups(path string, keep int) error {
	if keep <= 0 {
		return nil
	}
	backups, err := ListBackups(path)
	if err != nil {
		return err
	}
	for len(backups) > keep {
		if err := os.Remove(backups[0]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing backup %s: %w", backups[0], err)
		}
		backups = backups[1:]
	}
	return nil
}

func backupStamp(p string) int64 {
	i := strings.LastIndex(p, BackupSuffix)
	if i < 0 {
		return 0
	}
	n, _ := strconv.ParseInt(p[i+len(BackupSuffix):], 10, 64)
	return n
}

// WriteFileAtomic writes data to a temp file in the same directory and
// renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// EncodeDocument renders a document with two-space indentation.
func EncodeDocument(doc any) ([]byte, error) {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return []byte(b.String()), nil
}

// ReadDocument loads and validates one document. A missing file is
// returned as an fs.ErrNotExist error, a bad one as *MalformedError.
func ReadDocument(path string, doc Document) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return DecodeDocument(path, data, doc)
}
