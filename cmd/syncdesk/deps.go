package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hyperengineering/syncdesk/internal/clarity"
	"github.com/hyperengineering/syncdesk/internal/config"
	"github.com/hyperengineering/syncdesk/internal/freshdesk"
	"github.com/hyperengineering/syncdesk/internal/remote"
	"github.com/hyperengineering/syncdesk/internal/store"
	"github.com/hyperengineering/syncdesk/internal/table"
	"github.com/hyperengineering/syncdesk/internal/txlog"
	"golang.org/x/term"
)

// stdin is swapped in tests.
var stdin io.Reader = os.Stdin

// remoteOptions builds the shared transport options from config.
func remoteOptions(cfg *config.Config, w io.Writer) []remote.Option {
	policy := remote.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.HTTP.MaxAttempts
	policy.BaseWait = cfg.HTTP.BaseWait.Std()
	policy.MaxWait = cfg.HTTP.MaxWait.Std()
	return []remote.Option{
		remote.WithTimeout(cfg.HTTP.Timeout.Std()),
		remote.WithRetryPolicy(policy),
		remote.WithLogger(app.logger),
		remote.WithWaitObserver(func(attempt int, wait time.Duration) {
			fmt.Fprintf(w, "  rate limited, retry %d in %s\n", attempt, wait.Round(time.Second))
		}),
	}
}

func newFreshdesk(cfg *config.Config, w io.Writer) (*freshdesk.Client, error) {
	if err := cfg.RequireFreshdesk(); err != nil {
		return nil, err
	}
	return freshdesk.New(cfg.Freshdesk.BaseURL(), cfg.Freshdesk.APIKey, remoteOptions(cfg, w)...), nil
}

func newClarity(cfg *config.Config, w io.Writer) (*clarity.Client, error) {
	if err := cfg.RequireClarity(); err != nil {
		return nil, err
	}
	password := cfg.Clarity.Password
	if password == "" {
		p, err := readPassword(w, fmt.Sprintf("Clarity password for %s: ", cfg.Clarity.Username))
		if err != nil {
			return nil, err
		}
		password = p
	}
	return clarity.New(cfg.Clarity.BaseURL, cfg.Clarity.Username, password, remoteOptions(cfg, w)...), nil
}

// readPassword prompts without echo. It refuses when stdin is not a terminal.
func readPassword(w io.Writer, prompt string) (string, error) {
	f, ok := stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", errors.New("SYNCDESK_CLARITY_PASSWORD is not set and stdin is not a terminal")
	}
	fmt.Fprint(w, prompt)
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(b) == 0 {
		return "", errors.New("empty password")
	}
	return string(b), nil
}

// journal is the pair of transaction sinks every job writes to.
type journal struct {
	files *txlog.FileStore
	db    *store.SQLiteStore
}

func openJournal(cfg *config.Config) (*journal, error) {
	db, err := store.NewSQLiteStore(cfg.Paths.JournalDB)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &journal{files: txlog.NewFileStore(cfg.Paths.TransactionsDir), db: db}, nil
}

// recorder starts a fresh transaction writer on both sinks.
func (j *journal) recorder() *txlog.Recorder {
	return txlog.NewRecorder([]txlog.Sink{j.files, j.db}, txlog.WithRecorderLogger(app.logger))
}

func (j *journal) Close() error {
	return j.db.Close()
}

// loadTable reads a CSV or XLSX export. hint names a header token used to
// skip a junk first line.
func loadTable(path string, hint ...string) (*table.Table, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("file path is empty")
	}
	t, err := table.Load(path, table.LoadOptions{HeaderHint: hint})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return t, nil
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
