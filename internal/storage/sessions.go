package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/conorfennell/recall/internal/domain"
)

// CreateSession stores a newly started session.
func (db *DB) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sessions (id, profile_id, started_at)
		VALUES (?, ?, ?)
	`, s.ID, s.ProfileID, formatTime(s.Start))
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", s.ID, err)
	}
	return nil
}

// EndSession closes a session. A session is only ever closed once.
func (db *DB) EndSession(ctx context.Context, s domain.Session) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?, duration_seconds = ?, timed_out = ?
		WHERE id = ? AND ended_at IS NULL
	`, formatTime(s.End), s.DurationSeconds, boolInt(s.TimedOut), s.ID)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", s.ID, err)
	}
	return expectOne(res, fmt.Sprintf("open session %s", s.ID))
}

// GetSession loads a session by id.
func (db *DB) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, profile_id, started_at, ended_at, duration_seconds, timed_out
		FROM sessions WHERE id = ?
	`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return s, nil
}

// RecentSessions returns the latest sessions of a profile, newest first.
func (db *DB) RecentSessions(ctx context.Context, profileID int64, limit int) ([]domain.Session, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, profile_id, started_at, ended_at, duration_seconds, timed_out
		FROM sessions WHERE profile_id = ?
		ORDER BY started_at DESC LIMIT ?
	`, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s        domain.Session
		start    string
		end      sql.NullString
		timedOut int
	)
	if err := row.Scan(&s.ID, &s.ProfileID, &start, &end, &s.DurationSeconds, &timedOut); err != nil {
		return nil, err
	}
	s.Start = parseTime(start)
	s.End = parseTime(end.String)
	s.TimedOut = timedOut == 1
	return &s, nil
}

// RecordEvent appends an event to the log and returns its id.
func (db *DB) RecordEvent(ctx context.Context, ev domain.ReviewEvent) (int64, error) {
	var (
		rating  sql.NullInt64
		elapsed sql.NullFloat64
		session sql.NullString
	)
	if ev.Rating != 0 {
		rating = sql.NullInt64{Int64: int64(ev.Rating), Valid: true}
	}
	if ev.Finalized {
		elapsed = sql.NullFloat64{Float64: ev.ElapsedSeconds, Valid: true}
	}
	if ev.SessionID != "" {
		session = sql.NullString{String: ev.SessionID, Valid: true}
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO review_events (profile_id, card_id, session_id, action, rating, occurred_at, local_date, elapsed_seconds, finalized, timed_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ProfileID,
		nullableID(ev.CardID),
		session,
		string(ev.Action),
		rating,
		formatTime(ev.OccurredAt),
		ev.LocalDate,
		elapsed,
		boolInt(ev.Finalized),
		boolInt(ev.TimedOut),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record %s event: %w", ev.Action, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for event: %w", err)
	}
	return id, nil
}

// FinalizeEvent writes the elapsed time of an event. It fails if the
// event was already finalized so a duration is never overwritten.
func (db *DB) FinalizeEvent(ctx context.Context, eventID int64, elapsedSeconds float64, timedOut bool) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE review_events SET elapsed_seconds = ?, finalized = 1, timed_out = ?
		WHERE id = ? AND finalized = 0
	`, elapsedSeconds, boolInt(timedOut), eventID)
	if err != nil {
		return fmt.Errorf("failed to finalize event %d: %w", eventID, err)
	}
	return expectOne(res, fmt.Sprintf("unfinalized event %d", eventID))
}

// SetEventRating stores the rating given to the item of an event.
func (db *DB) SetEventRating(ctx context.Context, eventID int64, rating domain.Rating) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE review_events SET rating = ? WHERE id = ?`, int(rating), eventID)
	if err != nil {
		return fmt.Errorf("failed to rate event %d: %w", eventID, err)
	}
	return expectOne(res, fmt.Sprintf("event %d", eventID))
}

// SessionEvents returns the events of a session in the order they happened.
func (db *DB) SessionEvents(ctx context.Context, sessionID string) ([]domain.ReviewEvent, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, profile_id, card_id, session_id, action, rating, occurred_at, local_date,
			elapsed_seconds, finalized, timed_out
		FROM review_events WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events of session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []domain.ReviewEvent
	for rows.Next() {
		var (
			ev         domain.ReviewEvent
			cardID     sql.NullInt64
			session    sql.NullString
			action     string
			rating     sql.NullInt64
			occurredAt string
			elapsed    sql.NullFloat64
			finalized  int
			timedOut   int
		)
		err := rows.Scan(&ev.ID, &ev.ProfileID, &cardID, &session, &action, &rating,
			&occurredAt, &ev.LocalDate, &elapsed, &finalized, &timedOut)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.CardID = cardID.Int64
		ev.SessionID = session.String
		ev.Action = domain.Action(action)
		ev.Rating = domain.Rating(rating.Int64)
		ev.OccurredAt = parseTime(occurredAt)
		ev.ElapsedSeconds = elapsed.Float64
		ev.Finalized = finalized == 1
		ev.TimedOut = timedOut == 1
		out = append(out, ev)
	}
	return out, rows.Err()
}
