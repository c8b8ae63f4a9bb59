package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const cardColumns = `id, hash, question, answer, context, stability, difficulty, state, due,
	interval_days, lapses, last_review, favorite, known, source_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*domain.Card, error) {
	var (
		c          domain.Card
		state      int
		due        string
		lastReview string
		createdAt  string
		favorite   int
		known      int
		sourceID   sql.NullInt64
	)
	err := row.Scan(
		&c.ID,
		&c.Hash,
		&c.Question,
		&c.Answer,
		&c.Context,
		&c.Stability,
		&c.Difficulty,
		&state,
		&due,
		&c.IntervalDays,
		&c.Lapses,
		&lastReview,
		&favorite,
		&known,
		&sourceID,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	c.State = domain.CardState(state)
	c.Due = parseTime(due)
	c.LastReview = parseTime(lastReview)
	c.CreatedAt = parseTime(createdAt)
	c.Favorite = favorite == 1
	c.Known = known == 1
	c.SourceID = sourceID.Int64
	return &c, nil
}

// InsertCard inserts a new card with the default memory state and returns
// its id. A zero sourceID stores a card that was added by hand.
func (db *DB) InsertCard(ctx context.Context, fact domain.Fact, sourceID int64, now time.Time) (int64, error) {
	m := domain.NewMemoryState(now)
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO cards (hash, question, answer, context, stability, difficulty, state, due, interval_days, lapses, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		fact.Hash,
		fact.Question,
		fact.Answer,
		fact.Context,
		m.Stability,
		m.Difficulty,
		int(m.State),
		formatTime(m.Due),
		m.IntervalDays,
		m.Lapses,
		nullableID(sourceID),
		formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert card %s: %w", fact.Hash, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for card %s: %w", fact.Hash, err)
	}
	return id, nil
}

// FindCardByHash retrieves a card by its content hash. It returns nil, nil
// when no card matches.
func (db *DB) FindCardByHash(ctx context.Context, hash string) (*domain.Card, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE hash = ?`, hash)
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Card not found
		}
		return nil, fmt.Errorf("failed to find card by hash %s: %w", hash, err)
	}
	return c, nil
}

// GetCard retrieves a card by id.
func (db *DB) GetCard(ctx context.Context, id int64) (*domain.Card, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("card %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get card %d: %w", id, err)
	}
	return c, nil
}

// UpdateCardMemory stores a card's new memory state.
func (db *DB) UpdateCardMemory(ctx context.Context, id int64, m domain.MemoryState) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE cards
		SET stability = ?, difficulty = ?, state = ?, due = ?, interval_days = ?, lapses = ?, last_review = ?
		WHERE id = ?
	`,
		m.Stability,
		m.Difficulty,
		int(m.State),
		formatTime(m.Due),
		m.IntervalDays,
		m.Lapses,
		formatTime(m.LastReview),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update memory state for card %d: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("card %d", id))
}

// UpdateCardFact replaces a card's content. The memory state is kept.
func (db *DB) UpdateCardFact(ctx context.Context, id int64, fact domain.Fact) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE cards SET hash = ?, question = ?, answer = ?, context = ? WHERE id = ?
	`, fact.Hash, fact.Question, fact.Answer, fact.Context, id)
	if err != nil {
		return fmt.Errorf("failed to update card %d: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("card %d", id))
}

// DeleteCard removes a card by id.
func (db *DB) DeleteCard(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete card %d: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("card %d", id))
}

// DeleteCardByHash removes a card from the database by its hash.
func (db *DB) DeleteCardByHash(ctx context.Context, hash string) error {
	_, err := db.conn.ExecContext(ctx, `
		DELETE FROM cards
		WHERE hash = ?
	`, hash)
	if err != nil {
		return fmt.Errorf("failed to delete card with hash %s: %w", hash, err)
	}
	return nil
}

// SetFlag sets the favorite or known flag of a card. It reports whether the
// flag actually changed.
func (db *DB) SetFlag(ctx context.Context, id int64, c domain.Category, on bool) (bool, error) {
	column, err := flagColumn(c)
	if err != nil {
		return false, err
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE cards SET `+column+` = ? WHERE id = ? AND `+column+` <> ?`,
		boolInt(on), id, boolInt(on),
	)
	if err != nil {
		return false, fmt.Errorf("failed to set %s on card %d: %w", column, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := db.GetCard(ctx, id); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

// CountFlagged returns how many cards are currently favorited or known.
func (db *DB) CountFlagged(ctx context.Context, c domain.Category) (int, error) {
	column, err := flagColumn(c)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE `+column+` = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s cards: %w", column, err)
	}
	return n, nil
}

func flagColumn(c domain.Category) (string, error) {
	switch c {
	case domain.CategoryFavorites:
		return "favorite", nil
	case domain.CategoryKnown:
		return "known", nil
	default:
		return "", fmt.Errorf("category %q is not a card flag", c)
	}
}

// GetDueCards returns cards due at or before now, oldest first. Cards
// marked known are skipped. A limit of zero returns every due card.
func (db *DB) GetDueCards(ctx context.Context, now time.Time, limit int) ([]domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE due <= ? AND known = 0 ORDER BY due, id`
	args := []any{formatTime(now)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return db.queryCards(ctx, query, args...)
}

// CountDueCards returns the number of cards due at or before now.
func (db *DB) CountDueCards(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE due <= ? AND known = 0`, formatTime(now)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count due cards: %w", err)
	}
	return n, nil
}

// GetCardsBySourceID retrieves all cards associated with a specific source ID.
func (db *DB) GetCardsBySourceID(ctx context.Context, sourceID int64) ([]domain.Card, error) {
	cards, err := db.queryCards(ctx, `SELECT `+cardColumns+` FROM cards WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for source ID %d: %w", sourceID, err)
	}
	return cards, nil
}

func (db *DB) queryCards(ctx context.Context, query string, args ...any) ([]domain.Card, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, *c)
	}
	return cards, rows.Err()
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
