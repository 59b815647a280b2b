package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	contentTypeSQLite = "application/vnd.sqlite3"
	contentTypeXLSX   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeCSV    = "text/csv"
)

// Snapshotter writes a consistent copy of the journal. Implemented by
// store.SQLiteStore.
type Snapshotter interface {
	Snapshot(ctx context.Context, path string) error
}

// Archiver snapshots the journal and uploads it with the export workbooks.
type Archiver struct {
	Journal   Snapshotter
	Uploader  Uploader
	Prefix    string
	ExportDir string
	// WorkDir receives the local journal snapshot.
	WorkDir string
	Logger  *slog.Logger
	Now     func() time.Time
}

// Result describes one archive run.
type Result struct {
	Snapshot  string    `json:"snapshot"`
	Uploaded  bool      `json:"uploaded"`
	Keys      []string  `json:"keys,omitempty"`
	URL       string    `json:"url,omitempty"`
	URLExpiry time.Time `json:"url_expiry,omitempty"`
}

// Run takes the snapshot and, when storage is configured, uploads it and
// every .xlsx and .csv file found directly under ExportDir. Objects are
// keyed <prefix>/<yyyymmdd_hhmmss>/.
func (a *Archiver) Run(ctx context.Context) (*Result, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	stamp := now().Format("20060102_150405")

	res := &Result{Snapshot: filepath.Join(a.WorkDir, "journal_"+stamp+".db")}
	if err := a.Journal.Snapshot(ctx, res.Snapshot); err != nil {
		return nil, err
	}
	logger.Info("journal snapshot written", "path", res.Snapshot)

	if _, local := a.Uploader.(*NoopUploader); local {
		return res, nil
	}

	exports, err := exportFiles(a.ExportDir)
	if err != nil {
		return res, err
	}

	root := path.Join(a.Prefix, stamp)
	journalKey := path.Join(root, "journal.db")
	if err := a.Uploader.Upload(ctx, journalKey, res.Snapshot, contentTypeSQLite); err != nil {
		return res, err
	}
	res.Keys = append(res.Keys, journalKey)

	for _, f := range exports {
		key := path.Join(root, "exports", filepath.Base(f))
		if err := a.Uploader.Upload(ctx, key, f, contentType(f)); err != nil {
			return res, err
		}
		res.Keys = append(res.Keys, key)
	}
	res.Uploaded = true
	logger.Info("archive uploaded", "prefix", root, "objects", len(res.Keys))

	u, exp, err := a.Uploader.PresignedURL(ctx, journalKey)
	if err != nil {
		logger.Warn("pre-signed URL unavailable", "key", journalKey, "error", err)
		return res, nil
	}
	res.URL, res.URLExpiry = u, exp
	return res, nil
}

// exportFiles lists workbooks directly under dir, sorted. A missing dir has
// no exports.
func exportFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read export dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".xlsx", ".csv":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func contentType(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".csv") {
		return contentTypeCSV
	}
	return contentTypeXLSX
}
