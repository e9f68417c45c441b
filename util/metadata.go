package util

import (
	"encoding/json"
	"io"
	"time"

	"github.com/dendrascience/jsonfs/version"
)

type Metadata struct {
	DirCount      int       `json:"dir_count"`
	FileCount     int       `json:"file_count"`
	JSONFSVersion string    `json:"jsonfs_version"`
	NewestFileTS  time.Time `json:"newest_file_ts"`
	OldestFileTS  time.Time `json:"oldest_file_ts"`
	TotalBytes    uint64    `json:"total_bytes"`
	MaxDepth      int       `json:"max_depth"`
}

// GetVersion returns the current jsonfs version string.
// It delegates to the version package to get the version information.
func GetVersion() string {
	return version.GetVersion()
}

// GenerateMetadata summarises the tree. The root counts as a directory;
// file timestamps are taken from st_mtime.
func (t *Tree) GenerateMetadata() Metadata {
	m := Metadata{JSONFSVersion: GetVersion()}
	var newest, oldest int64
	t.Walk(func(p string, n Node) error {
		if depth := len(SplitPath(p)); depth > m.MaxDepth {
			m.MaxDepth = depth
		}
		switch n := n.(type) {
		case *Dir:
			m.DirCount++
		case *File:
			mtime := n.attrs.Mtime
			if m.FileCount == 0 || mtime > newest {
				newest = mtime
			}
			if m.FileCount == 0 || mtime < oldest {
				oldest = mtime
			}
			m.FileCount++
			m.TotalBytes += n.attrs.Size
		}
		return nil
	})
	if m.FileCount > 0 {
		m.NewestFileTS = time.Unix(newest, 0).UTC()
		m.OldestFileTS = time.Unix(oldest, 0).UTC()
	}
	return m
}

func (m Metadata) Save(w io.Writer) error {
	je := json.NewEncoder(w)
	je.SetIndent("", "  ")
	return je.Encode(m)
}
