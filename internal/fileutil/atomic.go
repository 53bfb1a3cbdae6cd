// Package fileutil replaces harvest's on-disk state files (config and the
// pool cache) without leaving a half-written file behind.
package fileutil

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// dirPerm is used for state directories created on demand.
const dirPerm = 0o750

// ErrEmptyPath indicates an empty file path was provided.
var ErrEmptyPath = errors.New("path is empty")

// Replace streams fill into a sibling temp file and renames it over path
// once fill succeeds and the data is synced. Missing parent directories are
// created. On any error the previous file is untouched.
func Replace(path string, perm os.FileMode, fill func(io.Writer) error) (err error) {
	if path == "" {
		return ErrEmptyPath
	}
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err = fill(buf); err != nil {
		return err
	}
	if err = buf.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil { //nolint:gosec // path comes from harvest configuration
		return fmt.Errorf("rename into %s: %w", path, err)
	}

	if d, openErr := os.Open(dir); openErr == nil { //nolint:gosec // dir is the parent of path
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
