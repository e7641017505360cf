package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DoyleJ11/defrag-spectator/internal/directory"
)

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe <addr>",
	Short: "Query a server directly and report whether the bot could join it",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 3*time.Second, "How long to wait for the status reply")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	addr := directory.NormalizeAddr(args[0])
	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	st, err := directory.NewProber(probeTimeout).Status(ctx, addr)
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s  %d/%d players\n", addr, st.Info["mapname"], len(st.Players), st.MaxClients())
	for _, name := range st.Players {
		fmt.Printf("  %s\n", name)
	}
	if err := st.Check(); err != nil {
		return fmt.Errorf("%s: %w", addr, err)
	}
	fmt.Println("ok")
	return nil
}
