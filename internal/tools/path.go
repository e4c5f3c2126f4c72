package tools

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// resolvePath resolves path relative to workspace and validates it stays
// inside the workspace boundary, following symlinks to their canonical form
// so a symlink (or a chain of them) can't be used to escape it.
func resolvePath(path, workspace string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}

	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace // workspace doesn't exist yet
	}

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("tools: path resolve failed", "path", path, "error", err)
			return "", fmt.Errorf("access denied: cannot resolve path")
		}

		if linfo, lerr := os.Lstat(absResolved); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
			target, readErr := os.Readlink(absResolved)
			if readErr != nil {
				return "", fmt.Errorf("access denied: cannot resolve symlink")
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(absResolved), target)
			}
			target = filepath.Clean(target)

			resolvedTarget, resolveErr := resolveThroughExistingAncestors(target)
			if resolveErr != nil {
				slog.Warn("tools: broken symlink resolve failed", "path", path, "target", target)
				return "", fmt.Errorf("access denied: cannot resolve broken symlink target")
			}
			if !isPathInside(resolvedTarget, wsReal) {
				slog.Warn("tools: broken symlink escape", "path", path, "target", resolvedTarget, "workspace", wsReal)
				return "", fmt.Errorf("access denied: broken symlink target outside workspace")
			}
			real = resolvedTarget
		} else {
			parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absResolved))
			if parentErr != nil {
				return "", fmt.Errorf("access denied: cannot resolve path")
			}
			real = filepath.Join(parentReal, filepath.Base(absResolved))
		}
	}

	if !isPathInside(real, wsReal) {
		slog.Warn("tools: path escape", "path", path, "resolved", real, "workspace", wsReal)
		return "", fmt.Errorf("access denied: path outside workspace")
	}

	if hasMutableSymlinkParent(real) {
		slog.Warn("tools: mutable symlink parent", "path", path, "resolved", real)
		return "", fmt.Errorf("access denied: path contains mutable symlink component")
	}

	if err := checkHardlink(real); err != nil {
		return "", err
	}

	return real, nil
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// resolveThroughExistingAncestors finds the deepest existing ancestor of
// target, canonicalizes it, and rebuilds the remaining path on top of it —
// so a broken symlink whose target passes through further symlinks still
// gets fully resolved.
func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}

	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

// hasMutableSymlinkParent reports whether any path component is a symlink
// whose parent directory the process can write to — a TOCTOU window where
// the symlink could be rebound between resolution and use.
func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2 /* W_OK */) == nil {
				return true
			}
		}
	}
	return false
}

// checkHardlink rejects regular files with more than one hard link, so a
// hardlink planted outside the workspace can't be read or overwritten
// through a workspace-relative name.
func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			slog.Warn("tools: hardlink rejected", "path", path, "nlink", stat.Nlink)
			return fmt.Errorf("access denied: hardlinked file not allowed")
		}
	}
	return nil
}
