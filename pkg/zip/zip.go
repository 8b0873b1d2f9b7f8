package zip

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
)

// Entry is one file destined for the archive.
type Entry struct {
	Name string
	Data []byte
}

// Archive bundles the entries into a zip and returns its bytes.
func Archive(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, errors.New("zip: nothing to archive")
	}
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, entry := range entries {
		name := entry.Name
		if name == "" {
			return nil, errors.New("zip: entry without a name")
		}
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
