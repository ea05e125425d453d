package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/miloview/miloview/internal/backup"
	"github.com/miloview/miloview/internal/store"
)

// exportCmd snapshots the backup mirror to JSON and CSV files. It reads
// the SQLite mirror directly, so it works while the daemon is down.
func exportCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all cached messages and conversations to JSON and CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := backup.Open(cfg.BackupDBPath())
			if err != nil {
				return fmt.Errorf("open backup mirror: %w", err)
			}
			defer db.Close()
			if _, err := db.Migrate(); err != nil {
				return err
			}

			msgs, err := db.LoadAll()
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				return fmt.Errorf("backup mirror is empty, run the daemon first")
			}

			if outDir == "" {
				outDir = filepath.Join(cfg.ExportDir(), time.Now().Format("20060102-150405"))
			}
			if err := os.MkdirAll(outDir, 0700); err != nil {
				return err
			}

			cache := store.NewCache()
			cache.Merge(msgs)

			if err := writeJSONFile(filepath.Join(outDir, "all_messages.json"), msgs); err != nil {
				return err
			}
			convs := cache.Conversations(store.PartitionAll, nil)
			if err := writeJSONFile(filepath.Join(outDir, "conversations.json"), convs); err != nil {
				return err
			}
			if err := writeCSV(filepath.Join(outDir, "messages.csv"), msgs); err != nil {
				return err
			}

			fmt.Printf("exported %d messages in %d conversations to %s\n",
				len(msgs), len(convs), outDir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default a timestamped dir under the data dir)")
	return cmd
}

func writeJSONFile(path string, v any) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	encErr := enc.Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func writeCSV(path string, msgs []store.Message) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"sid", "from", "to", "direction", "status", "date_sent", "body", "error_code"}); err != nil {
		return err
	}
	for _, m := range msgs {
		sent := ""
		if ts := m.EffectiveTime(); !ts.IsZero() {
			sent = ts.Format(time.RFC3339)
		}
		errCode := ""
		if m.ErrorCode != 0 {
			errCode = strconv.Itoa(m.ErrorCode)
		}
		if err := w.Write([]string{m.SID, m.From, m.To, m.Direction, m.Status, sent, m.Body, errCode}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
