package llm

import (
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/akio-matsumoto/print-etl/constants"
)

// ReadAsDataURL reads a document and encodes it as a base64 data URL for
// inline attachment. The MIME type comes from the file extension.
func ReadAsDataURL(path string) (dataURL, mimeType string, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	mt := constants.MapExtToMIME(filepath.Ext(path))
	if mt == "" {
		mt = "application/octet-stream"
	}
	data := base64.StdEncoding.EncodeToString(b)
	return "data:" + mt + ";base64," + data, mt, nil
}
