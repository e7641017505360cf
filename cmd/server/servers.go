package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/defrag-spectator/internal/config"
	"github.com/DoyleJ11/defrag-spectator/internal/directory"
)

const directoryTimeout = 10 * time.Second

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List populated servers, busiest first",
	RunE:  runServers,
}

func init() {
	rootCmd.AddCommand(serversCmd)
}

func runServers(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, dev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), directoryTimeout)
	defer cancel()

	ranked, err := newDirectory(cfg, clockwork.NewRealClock(), zap.NewNop()).Ranking(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tPLAYERS")
	for _, r := range ranked {
		fmt.Fprintf(w, "%s\t%d\n", r.Addr, r.Players)
	}
	return w.Flush()
}

func newDirectory(cfg config.Config, clock clockwork.Clock, log *zap.Logger) *directory.HTTPDirectory {
	return directory.NewHTTPDirectory(directory.Config{
		URL:      cfg.Directory.URL,
		Rate:     rate.Limit(cfg.Directory.Rate),
		Burst:    cfg.Directory.Burst,
		CacheTTL: cfg.Directory.CacheTTL,
		Timeout:  directoryTimeout,
	}, clock, log)
}
