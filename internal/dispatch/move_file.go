package dispatch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/akio-matsumoto/print-etl/internal/config"
)

// moveFile copies the source document to a destination built from the
// action's path template. It copies rather than moves so the pipeline still
// owns the terminal placement of the original. Returns the destination.
func (d *Dispatcher) moveFile(a config.Action, rec Record) (string, error) {
	data := templateData(rec.Fields)
	base := filepath.Base(rec.SourcePath)
	ext := filepath.Ext(base)
	data["original_name"] = strings.TrimSuffix(base, ext)
	data["extension"] = ext

	rel, err := expandTemplate(a.PathTemplate, data)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(a.BaseDir, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return dest, fmt.Errorf("create destination directory: %w", err)
	}

	dest = uniquePath(dest)
	if err := copyFile(rec.SourcePath, dest); err != nil {
		return dest, err
	}
	return dest, nil
}

// uniquePath appends _N before the extension until the path is free.
func uniquePath(dest string) string {
	if _, err := os.Stat(dest); err != nil {
		return dest
	}
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(dest, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}
