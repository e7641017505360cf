package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/defrag-spectator/internal/config"
	"github.com/DoyleJ11/defrag-spectator/internal/console"
	"github.com/DoyleJ11/defrag-spectator/internal/gameclient"
	"github.com/DoyleJ11/defrag-spectator/internal/httpapi"
	"github.com/DoyleJ11/defrag-spectator/internal/hub"
	"github.com/DoyleJ11/defrag-spectator/internal/journal"
	"github.com/DoyleJ11/defrag-spectator/internal/logging"
	"github.com/DoyleJ11/defrag-spectator/internal/recovery"
	"github.com/DoyleJ11/defrag-spectator/internal/report"
	"github.com/DoyleJ11/defrag-spectator/internal/session"
	"github.com/DoyleJ11/defrag-spectator/internal/state"
)

var errGameExited = errors.New("game client exited")

const noticesKept = 100

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the game client and run the spectator session",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides http.addr)")
	serveCmd.Flags().String("start", "", "Server to join on startup instead of the busiest one")
	serveCmd.Flags().String("game", "", "Path to the game client binary (overrides game.binary)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := config.LoadFlags(cfgFile, dev, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Game.Binary == "" {
		return errors.New("game.binary is required")
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jrnl, err := openJournal(cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, jrnl.Close()) }()

	rules, err := console.LoadRules(cfg.Game.Rules)
	if err != nil {
		return err
	}

	proc := gameclient.NewProcess(gameclient.ProcessConfig{
		Binary: cfg.Game.Binary,
		Args:   cfg.Game.Args,
		Dir:    cfg.Game.Dir,
	}, log)
	if err := proc.Start(); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, proc.Close()) }()

	clock := clockwork.NewRealClock()
	dir := newDirectory(cfg, clock, log)
	h := hub.NewHub(ctx, noticesKept)
	sess := session.New(ctx, sessionConfig(cfg), session.Deps{
		Clock:     clock,
		Log:       log,
		Game:      proc,
		Reports:   report.NewFileSource(cfg.Game.ReportPath),
		Directory: dir,
		Sink:      h,
		Journal:   jrnl,
	})
	log.Info("session started", zap.Stringer("session", sess.ID()))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.SetupRoutes(sess, h, dir, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cls := console.NewClassifier(rules)
		err := cls.Tail(gctx, proc.Console(), clock.Now, func(ev console.Event) {
			_ = sess.Send(gctx, session.Console{Event: ev})
		})
		if gctx.Err() != nil {
			return nil
		}
		return multierr.Append(errGameExited, err)
	})

	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-sess.Done():
			if ctx.Err() == nil {
				return errors.New("session stopped")
			}
		case <-gctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Closing the client unblocks the console tail.
		return multierr.Append(srv.Shutdown(shutdownCtx), proc.Close())
	})

	g.Go(func() error {
		return start(gctx, sess, cfg.Session.StartAddr)
	})

	err = g.Wait()
	log.Info("shutting down", zap.Error(err))
	return err
}

func start(ctx context.Context, sess *session.Session, addr string) error {
	reply := make(chan error, 1)
	var m session.Msg = session.Restart{Reply: reply}
	if addr != "" {
		m = session.Connect{Addr: addr, Reply: reply}
	}
	if err := sess.Send(ctx, m); err != nil {
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return nil
	}
}

func openJournal(cfg config.Config, log *zap.Logger) (journal.Journal, error) {
	if cfg.Journal.DSN == "" {
		log.Info("journal disabled")
		return journal.Nop{}, nil
	}
	db, err := journal.OpenPostgres(cfg.Journal.DSN, log)
	if err != nil {
		return nil, err
	}
	return journal.NewAsync(db, cfg.Journal.Queue, log), nil
}

func sessionConfig(cfg config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.Tick = cfg.Session.Tick
	sc.AFKTimeout = cfg.Session.AFKTimeout
	sc.IdleTimeout = cfg.Session.IdleTimeout
	sc.InitTimeout = cfg.Session.InitTimeout
	sc.AFKFlagTTL = cfg.Session.AFKFlagTTL
	sc.AFKExtend = cfg.Session.AFKExtend
	sc.ReportSettle = cfg.Session.ReportSettle
	sc.NoticeDelay = cfg.Session.NoticeDelay
	sc.TeamCheckInterval = cfg.Session.TeamCheckInterval
	sc.PauseTimeout = cfg.Session.PauseTimeout
	sc.ConnectTimeout = cfg.Recovery.ConnectTimeout
	sc.StandbyDuration = cfg.Standby.Duration
	sc.StandbyInterval = cfg.Standby.MessageInterval
	sc.VoteWindow = cfg.Vote.Window
	sc.VoteAliases = cfg.Vote.Aliases
	sc.ReconnectSettle = cfg.Recovery.ReconnectSettle
	sc.AlternatePause = cfg.Recovery.AlternatePause
	sc.Recovery = recovery.Config{
		Cooldown:    cfg.Recovery.Cooldown,
		Horizon:     cfg.Recovery.DeadlockHorizon,
		TierTimeout: cfg.Recovery.TierTimeout,
	}
	sc.Store = state.DefaultOptions()
	sc.Store.FollowCooldown = cfg.Session.FollowFailureCooldown
	sc.Store.MaxFollowFailures = cfg.Session.MaxFollowFailures
	return sc
}
