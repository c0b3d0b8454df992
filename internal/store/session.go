package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the format of Session.Date.
const DateLayout = "2006-01-02"

// ErrInvalidSession is returned when a session fails validation before insert.
var ErrInvalidSession = errors.New("invalid session")

// Source records how a session was captured.
type Source string

const (
	SourceLive   Source = "live"
	SourceVideo  Source = "video"
	SourceManual Source = "manual"
)

// Session is one entry of a user's exercise history.
type Session struct {
	ID            string        `json:"id"`
	UserEmail     string        `json:"user_email"`
	Exercise      string        `json:"exercise"`
	Date          string        `json:"session_date"`
	Count         int           `json:"count"`
	Frames        int64         `json:"frames"`
	SkippedFrames int64         `json:"skipped_frames"`
	Source        Source        `json:"source"`
	Duration      time.Duration `json:"duration_ns"`
	CreatedAt     time.Time     `json:"created_at"`
}

// DaySummary totals the reps of one day per exercise.
type DaySummary struct {
	Date      string         `json:"date"`
	Exercises map[string]int `json:"exercises"`
}

// SessionRepository provides CRUD operations for session history.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

func (r *SessionRepository) validate(sess *Session) error {
	if _, err := mail.ParseAddress(sess.UserEmail); err != nil {
		return fmt.Errorf("%w: user email %q: %v", ErrInvalidSession, sess.UserEmail, err)
	}
	if sess.Count < 0 {
		return fmt.Errorf("%w: negative count %d", ErrInvalidSession, sess.Count)
	}
	if _, err := time.Parse(DateLayout, sess.Date); err != nil {
		return fmt.Errorf("%w: session date %q", ErrInvalidSession, sess.Date)
	}
	switch sess.Source {
	case SourceLive, SourceVideo, SourceManual:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidSession, sess.Source)
	}
	return nil
}

// Create inserts a new session. An empty ID gets a fresh UUID and an empty
// Date defaults to the creation day.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.Date == "" {
		sess.Date = sess.CreatedAt.Format(DateLayout)
	}
	if err := r.validate(sess); err != nil {
		return err
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, user_email, exercise, session_date, count, frames, skipped_frames, source, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserEmail, sess.Exercise, sess.Date, sess.Count, sess.Frames, sess.SkippedFrames,
		string(sess.Source), sess.Duration.Milliseconds(), sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

const sessionColumns = `id, user_email, exercise, session_date, count, frames, skipped_frames, source, duration_ms, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	sess := &Session{}
	var source string
	var durationMs int64

	err := row.Scan(&sess.ID, &sess.UserEmail, &sess.Exercise, &sess.Date, &sess.Count,
		&sess.Frames, &sess.SkippedFrames, &source, &durationMs, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}

	sess.Source = Source(source)
	sess.Duration = time.Duration(durationMs) * time.Millisecond
	return sess, nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// ListByUser returns the sessions of a user, newest first. A limit of zero
// or less returns all of them.
func (r *SessionRepository) ListByUser(email string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_email = ?
		 ORDER BY session_date DESC, created_at DESC
		 LIMIT ?`,
		email, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Summary totals a user's reps per day and exercise, newest day first.
func (r *SessionRepository) Summary(email string) ([]DaySummary, error) {
	rows, err := r.db.Query(
		`SELECT session_date, exercise, SUM(count)
		 FROM sessions
		 WHERE user_email = ?
		 GROUP BY session_date, exercise`,
		email,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDate := make(map[string]map[string]int)
	for rows.Next() {
		var date, exercise string
		var total int
		if err := rows.Scan(&date, &exercise, &total); err != nil {
			return nil, err
		}
		if byDate[date] == nil {
			byDate[date] = make(map[string]int)
		}
		byDate[date][exercise] = total
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summary := make([]DaySummary, 0, len(byDate))
	for date, totals := range byDate {
		summary = append(summary, DaySummary{Date: date, Exercises: totals})
	}
	sort.Slice(summary, func(i, j int) bool {
		return summary[i].Date > summary[j].Date
	})

	return summary, nil
}

// Delete removes a session by its ID.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
