// Package sync reconciles fact sources with the card store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/parser"
	"github.com/conorfennell/recall/internal/storage"
)

// Store is the part of the card store that reconciliation needs.
type Store interface {
	GetAllSources(ctx context.Context) ([]storage.Source, error)
	FindCardByHash(ctx context.Context, hash string) (*domain.Card, error)
	InsertCard(ctx context.Context, fact domain.Fact, sourceID int64, now time.Time) (int64, error)
	GetCardsBySourceID(ctx context.Context, sourceID int64) ([]domain.Card, error)
	DeleteCardByHash(ctx context.Context, hash string) error
	UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error
}

// Fetcher brings a git source up to date and returns its local path.
type Fetcher interface {
	Sync(ctx context.Context, repoURL string) (string, error)
}

// Report summarizes one reconciliation of a source.
type Report struct {
	SourceID int64  `json:"source_id"`
	Path     string `json:"path"`
	Parsed   int    `json:"parsed"`
	Inserted int    `json:"inserted"`
	Deleted  int    `json:"deleted"`
	Errors   int    `json:"errors"`
	Err      string `json:"error,omitempty"`
}

// Syncer imports facts from every configured source.
type Syncer struct {
	store   Store
	fetcher Fetcher
	logger  *slog.Logger
	now     func() time.Time

	// FetchLimit caps concurrent git fetches.
	FetchLimit int
}

// NewSyncer creates a syncer. A nil logger uses slog.Default.
func NewSyncer(store Store, fetcher Fetcher, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{store: store, fetcher: fetcher, logger: logger, now: time.Now, FetchLimit: 4}
}

// Run fetches git sources concurrently and then reconciles every source
// in turn. A failing source is reported and skipped.
func (s *Syncer) Run(ctx context.Context) ([]Report, error) {
	s.logger.Info("starting sync for all sources")
	sources, err := s.store.GetAllSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	if len(sources) == 0 {
		s.logger.Info("no sources configured, add one with --add-source <path/or/url.git>")
		return nil, nil
	}

	localPaths := make([]string, len(sources))
	fetchErrs := make([]error, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.FetchLimit))
	for i, src := range sources {
		switch src.Type {
		case storage.SourceLocal:
			localPaths[i] = src.Path
		case storage.SourceGit:
			if s.fetcher == nil {
				fetchErrs[i] = errors.New("git sources are not supported")
				continue
			}
			g.Go(func() error {
				// Per-source failures are collected, not fatal to the group.
				localPaths[i], fetchErrs[i] = s.fetcher.Sync(gctx, src.Path)
				return nil
			})
		default:
			fetchErrs[i] = fmt.Errorf("unknown source type %q", src.Type)
		}
	}
	g.Wait()

	reports := make([]Report, 0, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		if fetchErrs[i] != nil {
			s.logger.Error("failed to fetch source", "id", src.ID, "path", src.Path, "error", fetchErrs[i])
			reports = append(reports, Report{SourceID: src.ID, Path: src.Path, Errors: 1, Err: fetchErrs[i].Error()})
			continue
		}
		reports = append(reports, s.Reconcile(ctx, src.ID, localPaths[i]))
	}
	s.logger.Info("sync complete", "sources", len(sources))
	return reports, nil
}

// Reconcile parses every markdown file below dir, inserts facts not seen
// before and deletes cards of the source whose fact disappeared.
func (s *Syncer) Reconcile(ctx context.Context, sourceID int64, dir string) Report {
	report := Report{SourceID: sourceID, Path: dir}
	found := make(map[string]bool)
	var unparsed []string
	now := s.now().UTC()

	fail := func(err error) {
		report.Errors++
		s.logger.Warn("reconcile error", "source_id", sourceID, "error", err)
	}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		facts, err := parser.ParseFile(path)
		if err != nil {
			unparsed = append(unparsed, path)
			fail(fmt.Errorf("parsing %s: %w", path, err))
		}
		for _, fact := range facts {
			report.Parsed++
			found[fact.Hash] = true

			existing, err := s.store.FindCardByHash(ctx, fact.Hash)
			if err != nil {
				fail(fmt.Errorf("db check for %s: %w", fact.Hash, err))
				continue
			}
			if existing != nil {
				continue
			}
			s.logger.Debug("new fact found, inserting", "hash", fact.Hash)
			if _, err := s.store.InsertCard(ctx, fact, sourceID, now); err != nil {
				fail(fmt.Errorf("db insert for %s: %w", fact.Hash, err))
				continue
			}
			report.Inserted++
		}
		return ctx.Err()
	})
	if walkErr != nil {
		s.logger.Error("error walking directory", "path", dir, "error", walkErr)
		report.Errors++
		report.Err = walkErr.Error()
		return report
	}

	if len(unparsed) > 0 {
		// The facts of an unreadable file are unknown, so none of its cards
		// can be told apart from orphans.
		s.logger.Warn("skipping orphan cleanup, some files could not be parsed",
			"source_id", sourceID, "files", unparsed)
	} else {
		s.sweep(ctx, sourceID, found, &report, fail)
	}

	if err := s.store.UpdateSourceLastScanned(ctx, sourceID, now); err != nil {
		fail(fmt.Errorf("updating last scanned: %w", err))
	}

	s.logger.Info("reconciliation complete",
		"path", dir,
		"parsed", report.Parsed,
		"inserted", report.Inserted,
		"deleted", report.Deleted,
		"errors", report.Errors,
	)
	return report
}

// sweep deletes the cards of sourceID whose hash was not found on disk.
func (s *Syncer) sweep(ctx context.Context, sourceID int64, found map[string]bool, report *Report, fail func(error)) {
	cards, err := s.store.GetCardsBySourceID(ctx, sourceID)
	if err != nil {
		fail(fmt.Errorf("listing cards of source %d: %w", sourceID, err))
		return
	}
	for _, c := range cards {
		if found[c.Hash] {
			continue
		}
		s.logger.Info("orphaned card, deleting", "hash", c.Hash)
		if err := s.store.DeleteCardByHash(ctx, c.Hash); err != nil {
			fail(fmt.Errorf("deleting orphan %s: %w", c.Hash, err))
			continue
		}
		report.Deleted++
	}
}
