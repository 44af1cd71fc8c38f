package report

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/healthsphere/grounded-reports/pkg/apperrors"
)

func outsideUploadDir() error {
	return apperrors.New(apperrors.KindInvalidRequest, "filePath must point inside the upload directory")
}

// resolveUpload maps a client supplied path onto a file inside root.
// Relative paths are taken from root. Symlinks are followed before the
// containment check, so a link inside root cannot reach outside it.
func resolveUpload(root, name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", outsideUploadDir()
	}
	base, err := realPath(root)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindInternal, "upload directory is not usable")
	}

	target := filepath.Clean(name)
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	if target, err = realPath(target); err != nil {
		return "", outsideUploadDir()
	}

	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", outsideUploadDir()
	}
	return target, nil
}

// realPath returns the absolute, symlink free form of path. A missing final
// element is allowed so the extractor can report it as an empty document.
func realPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if _, lerr := os.Lstat(abs); lerr == nil {
		// A dangling symlink: its target is unknown, so refuse it.
		return "", err
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(abs)), nil
}
