package fetcher

import (
	"archive/zip"
	"bytes"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ZIPEntry is one extracted archive member.
type ZIPEntry struct {
	Name string // base name, directories flattened
	Data []byte
}

// maxZIPEntrySize bounds a single decompressed member.
const maxZIPEntrySize = 1 << 30

// ExtractZIPBytes extracts every file of an in-memory ZIP archive.
// Directory entries are skipped and member paths are flattened to their base
// name, which also rules out zip-slip paths. Entries are sorted by name.
func ExtractZIPBytes(data []byte) ([]ZIPEntry, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	seen := make(map[string]bool)
	var entries []ZIPEntry
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(strings.ReplaceAll(f.Name, "\\", "/"))
		if name == "" || name == "." || name == "/" {
			continue
		}
		if seen[name] {
			return nil, eris.Errorf("zip: duplicate member name %q", name)
		}
		seen[name] = true

		content, err := readZIPEntry(f)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ZIPEntry{Name: name, Data: content})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func readZIPEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	content, err := io.ReadAll(io.LimitReader(rc, maxZIPEntrySize+1))
	if err != nil {
		return nil, eris.Wrapf(err, "zip: read entry %s", f.Name)
	}
	if len(content) > maxZIPEntrySize {
		return nil, eris.Errorf("zip: entry %s exceeds %d bytes", f.Name, maxZIPEntrySize)
	}
	return content, nil
}
