package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/akio-matsumoto/print-etl/internal/config"
)

// saveJSON appends the payload to a JSON array stored at the action's path.
// A missing, empty, or invalid file is reset to a fresh array; a file
// holding a single object is promoted to a one-element array. The
// read-modify-write runs under a per-path lock and lands via a temp file
// rename, so concurrent appends never interleave or lose an update.
func (d *Dispatcher) saveJSON(a config.Action, payload map[string]any) error {
	abs, err := filepath.Abs(a.Path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	lock := d.pathLock(abs)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create sink directory: %w", err)
	}

	var records []map[string]any
	if b, err := os.ReadFile(abs); err == nil && len(b) > 0 {
		if uerr := json.Unmarshal(b, &records); uerr != nil {
			var single map[string]any
			if serr := json.Unmarshal(b, &single); serr == nil {
				records = []map[string]any{single}
			} else {
				d.log.Warn("save_json sink is not valid JSON, resetting", "path", abs)
				records = nil
			}
		}
	}
	records = append(records, payload)

	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+filepath.Base(abs)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace sink file: %w", err)
	}
	return nil
}
