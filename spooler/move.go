package spooler

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type FileState string

const (
	StatePending   FileState = "pending"
	StateProcessed FileState = "processed"
	StateRejected  FileState = "rejected"
)

// Lifecycle moves files out of the pending directory into one of the two
// terminal directories. Files never move back to pending.
type Lifecycle struct {
	ProcessedDir string
	RejectedDir  string
}

func (l Lifecycle) MoveToProcessed(path string) (string, error) {
	return l.moveTo(path, StateProcessed)
}

func (l Lifecycle) MoveToRejected(path string) (string, error) {
	return l.moveTo(path, StateRejected)
}

func (l Lifecycle) moveTo(path string, state FileState) (string, error) {
	dir := l.ProcessedDir
	if state == StateRejected {
		dir = l.RejectedDir
	}
	dst, err := MoveFileToDir(path, dir)
	if err != nil {
		return "", fmt.Errorf("move to %s: %w", state, err)
	}
	return dst, nil
}

// MoveFileToDir moves srcPath into dstDir and returns the new path. A
// same-named file in dstDir is never overwritten; the moved file gets a
// -<unixnano> suffix instead.
func MoveFileToDir(srcPath string, dstDir string) (string, error) {
	if strings.TrimSpace(dstDir) == "" {
		return "", fmt.Errorf("%w: destination directory is empty", ErrMoveFailure)
	}
	info, err := os.Stat(srcPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrFileMissing, srcPath)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMoveFailure, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrMoveFailure, srcPath)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMoveFailure, err)
	}
	base := filepath.Base(srcPath)
	dstPath := filepath.Join(dstDir, base)
	if _, err := os.Stat(dstPath); err == nil {
		ext := filepath.Ext(base)
		name := strings.TrimSuffix(base, ext)
		dstPath = filepath.Join(dstDir, fmt.Sprintf("%s-%d%s", name, time.Now().UnixNano(), ext))
	}

	if err := os.Rename(srcPath, dstPath); err == nil {
		return dstPath, nil
	}

	// Cross-device moves.
	if err := copyFile(srcPath, dstPath, info.Mode().Perm()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMoveFailure, err)
	}
	if err := os.Remove(srcPath); err != nil {
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("%w: remove source: %v", ErrMoveFailure, err)
	}
	return dstPath, nil
}

func copyFile(srcPath string, dstPath string, perm fs.FileMode) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dstPath)
		return copyErr
	}
	if closeErr != nil {
		_ = os.Remove(dstPath)
		return closeErr
	}
	return nil
}
