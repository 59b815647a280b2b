package main

import (
	"fmt"
	"path/filepath"

	"github.com/hyperengineering/syncdesk/internal/archive"
	"github.com/spf13/cobra"
)

var archiveJSONOutput bool

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Snapshot the journal and upload it with the exports",
	Long: `Write a consistent copy of the transaction journal next to it. When
archive.bucket is set, upload the copy and every workbook in the export
directory to S3-compatible storage and print a download link.`,
	Args: cobra.NoArgs,
	RunE: runArchive,
}

func init() {
	archiveCmd.Flags().BoolVar(&archiveJSONOutput, "json", false, "Output in JSON format")
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg := app.cfg
	out := cmd.OutOrStdout()

	uploader, err := archive.NewUploader(cfg.Archive)
	if err != nil {
		return err
	}
	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx, cancel := signalContext()
	defer cancel()

	a := &archive.Archiver{
		Journal:   j.db,
		Uploader:  uploader,
		Prefix:    cfg.Archive.Prefix,
		ExportDir: cfg.Paths.ExportDir,
		WorkDir:   filepath.Join(filepath.Dir(cfg.Paths.JournalDB), "snapshots"),
		Logger:    app.logger,
	}
	res, err := a.Run(ctx)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	if archiveJSONOutput {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "Snapshot written to %s\n", res.Snapshot)
	if !res.Uploaded {
		fmt.Fprintln(out, "Archive storage not configured; nothing uploaded.")
		return nil
	}
	fmt.Fprintf(out, "Uploaded %d objects to %s\n", len(res.Keys), cfg.Archive.Bucket)
	if res.URL != "" {
		fmt.Fprintf(out, "Journal download (until %s):\n  %s\n", res.URLExpiry.Local().Format("2006-01-02 15:04"), res.URL)
	}
	return nil
}
