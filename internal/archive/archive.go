// Package archive reads conversation export data out of a vendor ZIP bundle.
//
// Two layouts exist in the wild: a single conversations.json, or a numbered
// shard family conversations-000.json, conversations-001.json, ... Either way
// ReadConversations returns the bytes of one JSON array.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/comigor/chatvault/internal/logger"
)

const (
	legacyName  = "conversations.json"
	shardPrefix = "conversations-"
	shardSuffix = ".json"
)

// ErrNoConversations is wrapped by Error when the archive holds no export data entry.
var ErrNoConversations = errors.New("conversations.json not found in archive")

// Error reports a fatal archive problem: unreadable, corrupt, or missing data.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archive %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReadConversations opens the ZIP at path and returns the merged conversations array.
func ReadConversations(path string) ([]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}
	defer zr.Close()
	return readFrom(&zr.Reader, path)
}

// ReadConversationsFrom is ReadConversations for an archive already in memory or on a seekable source.
func ReadConversationsFrom(r io.ReaderAt, size int64) ([]byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, &Error{Op: "open", Path: "<reader>", Err: err}
	}
	return readFrom(zr, "<reader>")
}

func readFrom(zr *zip.Reader, name string) ([]byte, error) {
	var entries []*zip.File
	for _, f := range zr.File {
		if isConversationEntry(f.Name) {
			entries = append(entries, f)
		}
	}
	if len(entries) == 0 {
		return nil, &Error{Op: "scan", Path: name, Err: ErrNoConversations}
	}

	// Legacy file first, then shards in lexicographic order (000, 001, ...).
	// Plain byte order would put "conversations-" before "conversations.".
	sort.Slice(entries, func(i, j int) bool {
		li, lj := path.Base(entries[i].Name) == legacyName, path.Base(entries[j].Name) == legacyName
		if li != lj {
			return li
		}
		return entries[i].Name < entries[j].Name
	})

	chunks := make([][]byte, 0, len(entries))
	for _, f := range entries {
		b, err := readEntry(f)
		if err != nil {
			return nil, &Error{Op: "read", Path: name + ":" + f.Name, Err: err}
		}
		chunks = append(chunks, b)
	}
	logger.L.Debug("archive entries selected", "archive", name, "entries", len(chunks))
	return Merge(chunks), nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// isConversationEntry matches export data entries and rejects macOS metadata
// (__MACOSX/ folders and AppleDouble "._" files).
func isConversationEntry(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") || strings.Contains(name, "/__MACOSX/") {
		return false
	}
	base := path.Base(name)
	if strings.HasPrefix(base, "._") {
		return false
	}
	if base == legacyName {
		return true
	}
	return strings.HasPrefix(base, shardPrefix) && strings.HasSuffix(base, shardSuffix)
}

// Merge splices several JSON array documents into one array. A single chunk is
// returned unchanged. Chunks without an enclosing [ ... ] pair, or whose interior
// is only whitespace, contribute nothing.
func Merge(chunks [][]byte) []byte {
	if len(chunks) == 1 {
		return chunks[0]
	}

	size := 2
	for _, c := range chunks {
		size += len(c) + 1
	}
	merged := make([]byte, 0, size)
	merged = append(merged, '[')

	first := true
	for i, c := range chunks {
		open := bytes.IndexByte(c, '[')
		if open < 0 {
			logger.L.Warn("skipping shard without opening bracket", "shard", i)
			continue
		}
		inner := c[open+1:]
		end := bytes.LastIndexByte(inner, ']')
		if end < 0 {
			logger.L.Warn("skipping shard without closing bracket", "shard", i)
			continue
		}
		inner = inner[:end]
		if len(bytes.TrimSpace(inner)) == 0 {
			continue
		}
		if !first {
			merged = append(merged, ',')
		}
		merged = append(merged, inner...)
		first = false
	}

	return append(merged, ']')
}
