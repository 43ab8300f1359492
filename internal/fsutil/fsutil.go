package fsutil

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

var scoreExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".tif":  {},
	".tiff": {},
	".bmp":  {},
	".pdf":  {},
}

var notationExts = map[string]struct{}{
	".xml":      {},
	".musicxml": {},
	".mxl":      {},
}

// IsScoreFile checks if a file is a supported score upload format.
func IsScoreFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := scoreExts[ext]
	return ok
}

// IsNotationFile checks if a file is a music-notation document.
func IsNotationFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := notationExts[ext]
	return ok
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// TrimExt strips the extension from a file name.
func TrimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// CopyFile copies src to dst, creating parent directories as needed.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// ListScores returns all score-like files under root.
func ListScores(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsScoreFile(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
