package ml

import (
	"os"
	"path/filepath"
)

// ResolvePath returns path unchanged when it is absolute or exists relative
// to the working directory. Otherwise it tries the executable's directory
// and its parent, falling back to the original path.
func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	exe, err := os.Executable()
	if err != nil {
		return path
	}
	exeDir := filepath.Dir(exe)
	for _, dir := range []string{exeDir, filepath.Dir(exeDir)} {
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return path
}
