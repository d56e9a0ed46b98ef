// Package pid guards against two collectors running against one pid file.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/heartbeat/internal/errors"
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644
)

// Write records the current process ID at path. An empty path disables the
// pid file. A file naming a live process other than this one fails with
// errors.ErrAlreadyRunning; a stale or unreadable file is replaced.
func Write(path string) error {
	if path == "" {
		return nil
	}

	errFactory := errors.New()

	if running, err := ownerRunning(path); err != nil {
		return err
	} else if running {
		return errFactory.WithData(errors.ErrAlreadyRunning, struct {
			Path string
		}{
			Path: path,
		})
	}

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(path, data, defaultFilePerm); err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	return nil
}

// Remove deletes the pid file. A missing file is not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrRemovePID, err)
	}

	return nil
}

func ownerRunning(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.New().Wrap(errors.ErrInitFailed, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return false, nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}

	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM), nil
}
