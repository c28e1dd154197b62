package ledger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// moveSpoolFile moves path into dir and returns the new location. A name
// already taken in dir gets a short random suffix.
func moveSpoolFile(path string, dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("move: destination dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("move: %w", err)
	}
	base := filepath.Base(path)
	dst := filepath.Join(dir, base)
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(base)
		dst = filepath.Join(dir, strings.TrimSuffix(base, ext)+"-"+uuid.NewString()[:8]+ext)
	}

	if err := os.Rename(path, dst); err == nil {
		return dst, nil
	}
	// Cross-device: copy then remove.
	if err := copyFile(path, dst); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("move %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("move %s: %w", path, err)
	}
	return dst, nil
}

func copyFile(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
