package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// localReadFile, localWriteFile, etc. implement the Executor file
// operations directly against the host filesystem. Both HostExecutor and
// DockerExecutor delegate to these: the host backend because there is no
// container boundary, and the docker backend because absPath is always a
// host-side path under its HostRoot bind mount (the same tree the
// container sees at WorkspacePath) — there is no running-container-only
// filesystem to reach through for the paths this core ever passes in.

func localReadFile(kind Kind, name, absPath string) ([]byte, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, wrapExit(kind, name, classifyIOErr(err))
	}
	return data, nil
}

func localWriteFile(kind Kind, name, absPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return wrapExit(kind, name, fmt.Errorf("%w: %v", ErrIOError, err))
	}
	if err := os.WriteFile(absPath, data, 0o644); err != nil {
		return wrapExit(kind, name, classifyIOErr(err))
	}
	return nil
}

func localEditFile(kind Kind, name, absPath, oldSlice, newSlice string, expectUnique bool) error {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return wrapExit(kind, name, classifyIOErr(err))
	}
	content := string(data)

	count := strings.Count(content, oldSlice)
	if count == 0 {
		return wrapExit(kind, name, fmt.Errorf("%w: old text not found in file", ErrIOError))
	}
	if expectUnique && count > 1 {
		return wrapExit(kind, name, fmt.Errorf("%w: old text is not unique: found %d occurrences", ErrIOError, count))
	}

	updated := strings.Replace(content, oldSlice, newSlice, 1)
	if err := os.WriteFile(absPath, []byte(updated), 0o644); err != nil {
		return wrapExit(kind, name, classifyIOErr(err))
	}
	return nil
}

func localPathExists(absPath string) (bool, error) {
	_, err := os.Stat(absPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func localStatFile(kind Kind, name, absPath string) (FileInfo, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return FileInfo{}, wrapExit(kind, name, classifyIOErr(err))
	}
	return FileInfo{
		Name:    info.Name(),
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
	}, nil
}

func localListDir(kind Kind, name, absPath string) ([]DirEntry, error) {
	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, wrapExit(kind, name, classifyIOErr(err))
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

// classifyIOErr maps an os package error to one of this package's typed
// sentinel errors, wrapped with %w so callers can errors.Is regardless of
// backend.
func classifyIOErr(err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		if pe, ok := err.(*os.PathError); ok {
			if pe.Err.Error() == "not a directory" {
				return fmt.Errorf("%w: %v", ErrNotADirectory, err)
			}
		}
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
}
