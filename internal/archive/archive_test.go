package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/syncdesk/internal/config"
)

// --- NoopUploader / factory ---

func TestNoopUploader_PresignedURL_ReturnsErrNotConfigured(t *testing.T) {
	u := &NoopUploader{}
	if err := u.Upload(context.Background(), "k", "/some/path", contentTypeCSV); err != nil {
		t.Errorf("Upload() error = %v", err)
	}
	if _, _, err := u.PresignedURL(context.Background(), "k"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("PresignedURL() error = %v, want ErrNotConfigured", err)
	}
}

func TestNewUploader_EmptyBucket_ReturnsNoopUploader(t *testing.T) {
	u, err := NewUploader(config.ArchiveConfig{})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	if _, ok := u.(*NoopUploader); !ok {
		t.Errorf("expected *NoopUploader, got %T", u)
	}
}

func TestNewUploader_WithBucket_ReturnsS3Uploader(t *testing.T) {
	off := false
	u, err := NewUploader(config.ArchiveConfig{
		Bucket:    "syncdesk-archive",
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		UseSSL:    &off,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		URLExpiry: config.Duration(15 * time.Minute),
	})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	s3u, ok := u.(*S3Uploader)
	if !ok {
		t.Fatalf("expected *S3Uploader, got %T", u)
	}
	if s3u.bucket != "syncdesk-archive" || s3u.urlExpiry != 15*time.Minute {
		t.Errorf("uploader = %+v", s3u)
	}
}

// --- S3Uploader with a mock client ---

type mockS3Client struct {
	puts       []string // key=contentType
	files      []string
	putErr     error
	presignErr error
}

func (m *mockS3Client) FPutObject(ctx context.Context, bucket, objectName, filePath, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.puts = append(m.puts, objectName+"="+contentType)
	m.files = append(m.files, filePath)
	return nil
}

func (m *mockS3Client) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	if m.presignErr != nil {
		return nil, m.presignErr
	}
	return url.Parse("https://s3.example.com/" + bucket + "/" + objectName + "?presigned=true")
}

func TestS3Uploader_UploadError(t *testing.T) {
	mock := &mockS3Client{putErr: errors.New("network timeout")}
	u := &S3Uploader{client: mock, bucket: "b", urlExpiry: time.Minute}

	err := u.Upload(context.Background(), "k", "/f", contentTypeCSV)
	if !errors.Is(err, mock.putErr) {
		t.Errorf("Upload() error = %v, want wrapped network timeout", err)
	}
}

func TestS3Uploader_PresignedURL(t *testing.T) {
	u := &S3Uploader{client: &mockS3Client{}, bucket: "b", urlExpiry: 15 * time.Minute}

	before := time.Now()
	got, expiry, err := u.PresignedURL(context.Background(), "p/journal.db")
	if err != nil {
		t.Fatalf("PresignedURL() error = %v", err)
	}
	if got != "https://s3.example.com/b/p/journal.db?presigned=true" {
		t.Errorf("url = %q", got)
	}
	if expiry.Before(before.Add(15 * time.Minute)) {
		t.Errorf("expiry = %v", expiry)
	}
}

// --- Archiver ---

// fakeJournal writes a small file as the snapshot.
type fakeJournal struct {
	err error
}

func (f *fakeJournal) Snapshot(_ context.Context, path string) error {
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("sqlite"), 0o644)
}

func newArchiver(t *testing.T, up Uploader) (*Archiver, string) {
	t.Helper()
	exports := t.TempDir()
	for _, name := range []string{"Resultados_20240603_090000.xlsx", "notes.txt", "cambios.csv"} {
		if err := os.WriteFile(filepath.Join(exports, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(exports, "old"), 0o755); err != nil {
		t.Fatal(err)
	}
	return &Archiver{
		Journal:   &fakeJournal{},
		Uploader:  up,
		Prefix:    "syncdesk",
		ExportDir: exports,
		WorkDir:   t.TempDir(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC) },
	}, exports
}

func TestArchiver_UploadsJournalAndExports(t *testing.T) {
	// Given
	mock := &mockS3Client{}
	a, exports := newArchiver(t, &S3Uploader{client: mock, bucket: "b", urlExpiry: time.Minute})

	// When
	res, err := a.Run(context.Background())

	// Then: the journal goes first, then workbooks in name order
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{
		"syncdesk/20240603_090000/journal.db=" + contentTypeSQLite,
		"syncdesk/20240603_090000/exports/Resultados_20240603_090000.xlsx=" + contentTypeXLSX,
		"syncdesk/20240603_090000/exports/cambios.csv=" + contentTypeCSV,
	}
	if strings.Join(mock.puts, "\n") != strings.Join(want, "\n") {
		t.Errorf("puts =\n%s\nwant\n%s", strings.Join(mock.puts, "\n"), strings.Join(want, "\n"))
	}
	if mock.files[1] != filepath.Join(exports, "Resultados_20240603_090000.xlsx") {
		t.Errorf("files = %v", mock.files)
	}
	if !res.Uploaded || len(res.Keys) != 3 {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(res.URL, "journal.db") {
		t.Errorf("url = %q", res.URL)
	}
	if filepath.Base(res.Snapshot) != "journal_20240603_090000.db" {
		t.Errorf("snapshot = %q", res.Snapshot)
	}
}

func TestArchiver_LocalOnly(t *testing.T) {
	a, _ := newArchiver(t, &NoopUploader{})

	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Uploaded || len(res.Keys) != 0 || res.URL != "" {
		t.Errorf("result = %+v", res)
	}
	if _, err := os.Stat(res.Snapshot); err != nil {
		t.Errorf("snapshot missing: %v", err)
	}
}

func TestArchiver_PresignFailureKeepsUpload(t *testing.T) {
	mock := &mockS3Client{presignErr: errors.New("no signer")}
	a, _ := newArchiver(t, &S3Uploader{client: mock, bucket: "b", urlExpiry: time.Minute})

	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Uploaded || res.URL != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestArchiver_SnapshotError(t *testing.T) {
	a, _ := newArchiver(t, &NoopUploader{})
	a.Journal = &fakeJournal{err: errors.New("disk full")}

	if _, err := a.Run(context.Background()); err == nil {
		t.Fatal("expected snapshot error")
	}
}
