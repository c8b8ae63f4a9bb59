package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/recall/internal/config"
	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/fsrs"
	"github.com/conorfennell/recall/internal/gamify"
	"github.com/conorfennell/recall/internal/gitsource"
	"github.com/conorfennell/recall/internal/session"
	"github.com/conorfennell/recall/internal/storage"
	"github.com/conorfennell/recall/internal/sync"
	"github.com/conorfennell/recall/internal/web"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds the wired components.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *storage.DB
	pc       domain.ProfileContext
	gamify   *gamify.Engine
	sessions *session.Manager
	syncer   *sync.Syncer
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("recall", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	addSource := fs.String("add-source", "", "Add a new source (local path or git URL) and exit")
	runSync := fs.Bool("sync", false, "Sync all sources and exit")
	showStats := fs.Bool("stats", false, "Print the profile summary and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.db.Close()

	switch {
	case *addSource != "":
		src, err := sync.AddSource(ctx, a.db, *addSource)
		if err != nil {
			return fmt.Errorf("failed to add source: %w", err)
		}
		logger.Info("source added", "id", src.ID, "type", src.Type, "path", src.Path)
		return nil
	case *runSync:
		_, err := a.syncer.Run(ctx)
		return err
	case *showStats:
		return a.printStats(ctx, stdout)
	default:
		return a.serve(ctx)
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	logger.Debug("database opened", "path", cfg.DBPath)

	profileID, err := db.EnsureProfile(ctx, cfg.Profile)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.SeedAchievements(ctx, gamify.DefaultCatalog()); err != nil {
		db.Close()
		return nil, err
	}

	curve, err := gamify.NewCurve(cfg.Curve)
	if err != nil {
		db.Close()
		return nil, err
	}

	weights, err := fsrs.LoadWeights(cfg.WeightsPath)
	if err != nil {
		logger.Warn("using default FSRS weights", "error", err)
	}

	pc := domain.ProfileContext{ProfileID: profileID, Location: loc}
	engine := gamify.NewEngine(db, curve, cfg.Rewards, logger)
	// The stored level may predate a curve change.
	if _, err := engine.RecomputeLevel(ctx, pc); err != nil {
		logger.Warn("failed to recompute level", "error", err)
	}

	manager := session.NewManager(session.Config{
		IdleTimeout:       cfg.Session.IdleTimeout,
		IdleEndsSession:   cfg.Session.IdleEndsSession,
		IdleNavigatesHome: cfg.Session.IdleNavigatesHome,
	}, pc, session.SystemClock{}, db, fsrs.NewEngine(weights, logger), engine, logger)

	fetcher := &gitsource.Syncer{BaseDir: cfg.ReposDir, Logger: logger}
	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		pc:       pc,
		gamify:   engine,
		sessions: manager,
		syncer:   sync.NewSyncer(db, fetcher, logger),
	}, nil
}

// serve runs the review API and the idle ticker until ctx is cancelled,
// then closes any open session.
func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           web.NewServer(web.Deps{DB: a.db, Sessions: a.sessions, Gamify: a.gamify, Syncer: a.syncer, Profile: a.pc, Logger: a.logger}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening", "addr", a.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.idleLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err := g.Wait()

	// Best effort: the process is going away, so use a fresh context.
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s, _, stopErr := a.sessions.Stop(stopCtx); stopErr == nil {
		a.logger.Info("session closed on shutdown", "session_id", s.ID)
	}
	return err
}

func (a *app) idleLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Session.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := a.sessions.Tick(ctx)
			if res.NavigateHome {
				a.logger.Info("idle timeout returned to home")
			}
		}
	}
}

func (a *app) printStats(ctx context.Context, w io.Writer) error {
	p, err := a.db.Profile(ctx, a.pc.ProfileID)
	if err != nil {
		return err
	}
	progress := a.gamify.Curve().Progress(p.XP, p.Level)
	due, err := a.db.CountDueCards(ctx, time.Now())
	if err != nil {
		return err
	}
	unlocks, err := a.db.Unlocks(ctx, a.pc.ProfileID)
	if err != nil {
		return err
	}
	catalog, err := a.db.Achievements(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Profile:      %s\n", p.Name)
	fmt.Fprintf(w, "Level:        %d (%s / %s XP into level)\n", progress.Level,
		humanize.Comma(int64(progress.XPIntoLevel)), humanize.Comma(int64(progress.NextLevelRequirement)))
	fmt.Fprintf(w, "Total XP:     %s\n", humanize.Comma(int64(p.XP)))
	fmt.Fprintf(w, "Streak:       %d days (longest %d)\n", p.CurrentStreak, p.LongestStreak)
	fmt.Fprintf(w, "Due now:      %s cards\n", humanize.Comma(int64(due)))
	fmt.Fprintf(w, "Achievements: %d of %d\n", len(unlocks), len(catalog))
	for _, c := range domain.Categories {
		fmt.Fprintf(w, "  %-10s %s\n", c, humanize.Comma(int64(p.Count(c))))
	}

	sessions, err := a.db.RecentSessions(ctx, a.pc.ProfileID, 1)
	if err != nil {
		return err
	}
	if len(sessions) > 0 {
		last := sessions[0]
		end := last.Start.Add(time.Duration(last.DurationSeconds * float64(time.Second)))
		fmt.Fprintf(w, "Last session: %s, %s\n", humanize.Time(last.Start), humanize.RelTime(end, last.Start, "", "long"))
	}
	return nil
}
