package upload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrEmptyImage is returned when the payload decodes to zero bytes.
	ErrEmptyImage = errors.New("empty image data")
	// ErrInvalidName is returned for file name prefixes that could leave Dir.
	ErrInvalidName = errors.New("invalid file name")
)

// Saver writes base64 images posted by the browser to Dir.
type Saver struct {
	Dir string
	Now func() time.Time
}

func NewSaver(dir string) *Saver {
	return &Saver{Dir: dir, Now: time.Now}
}

// Save decodes data and writes it to Dir/<prefix>_YYYYmmddHHMMSS.jpg.
// A data URL header ("data:image/jpeg;base64,") is stripped first.
func (s *Saver) Save(prefix, data string) (string, []byte, error) {
	if !validPrefix(prefix) {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidName, prefix)
	}
	raw, err := Decode(data)
	if err != nil {
		return "", nil, err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create upload dir: %w", err)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	name := fmt.Sprintf("%s_%s.jpg", prefix, now().Format("20060102150405"))
	path := filepath.Join(s.Dir, name)
	if rel, err := filepath.Rel(s.Dir, path); err != nil || rel != name {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidName, prefix)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", nil, fmt.Errorf("write image: %w", err)
	}
	return path, raw, nil
}

func validPrefix(prefix string) bool {
	return prefix != "" &&
		!strings.ContainsAny(prefix, `/\`) &&
		!strings.Contains(prefix, "..") &&
		!strings.ContainsRune(prefix, 0)
}

// Decode turns a base64 string or data URL into bytes.
func Decode(data string) ([]byte, error) {
	if i := strings.IndexByte(data, ','); i >= 0 {
		data = data[i+1:]
	}
	data = strings.TrimSpace(data)

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		// browsers occasionally drop the padding
		var rawErr error
		raw, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
		if rawErr != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
	}
	if len(raw) == 0 {
		return nil, ErrEmptyImage
	}
	return raw, nil
}
