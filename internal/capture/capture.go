package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

const pngPrefix = "data:image/png;base64,"

// Source produces a single still frame as a PNG data URI. Implementations
// wrap whatever surface the frame comes from; the API accepts uploaded
// frames through StaticSource.
type Source interface {
	CaptureFrame(ctx context.Context) (string, error)
}

// StaticSource serves one fixed frame, useful for tests and uploads.
type StaticSource struct {
	Frame string
}

func (s StaticSource) CaptureFrame(context.Context) (string, error) {
	if err := ValidateDataURI(s.Frame); err != nil {
		return "", err
	}
	return s.Frame, nil
}

// PNGDataURI wraps raw PNG bytes in the data URI form attached to turns.
func PNGDataURI(png []byte) string {
	return pngPrefix + base64.StdEncoding.EncodeToString(png)
}

// ValidateDataURI checks that a frame is a well-formed base64 PNG data URI.
func ValidateDataURI(dataURI string) error {
	if !strings.HasPrefix(dataURI, pngPrefix) {
		return fmt.Errorf("frame must be a base64 PNG data URI")
	}
	payload := strings.TrimPrefix(dataURI, pngPrefix)
	if payload == "" {
		return fmt.Errorf("frame payload is empty")
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return fmt.Errorf("decode frame payload: %w", err)
	}
	return nil
}
