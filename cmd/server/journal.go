package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/defrag-spectator/internal/config"
	"github.com/DoyleJ11/defrag-spectator/internal/journal"
)

var journalLimit int

var journalCmd = &cobra.Command{
	Use:   "journal <session-id>",
	Short: "Print the most recent journal entries of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournal,
}

func init() {
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "Number of entries to show")
	rootCmd.AddCommand(journalCmd)
}

func runJournal(cmd *cobra.Command, args []string) (err error) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("session id: %w", err)
	}
	cfg, err := config.Load(cfgFile, dev)
	if err != nil {
		return err
	}
	if cfg.Journal.DSN == "" {
		return errors.New("journal.dsn is not set")
	}
	db, err := journal.OpenPostgres(cfg.Journal.DSN, zap.NewNop())
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	entries, err := db.Recent(cmd.Context(), id, journalLimit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tADDRESS\tATTEMPT\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.CreatedAt.Format(time.DateTime), e.Kind, e.Address, e.Attempt, e.Detail)
	}
	return w.Flush()
}
