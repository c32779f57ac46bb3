package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/use-agent/tabhost/models"

	_ "modernc.org/sqlite"
)

const createTabsTable = `
CREATE TABLE IF NOT EXISTS tabs (
    id          TEXT PRIMARY KEY,
    url         TEXT NOT NULL DEFAULT '',
    title       TEXT NOT NULL DEFAULT '',
    position    INTEGER NOT NULL DEFAULT 0,
    active      INTEGER NOT NULL DEFAULT 0,
    hibernated  INTEGER NOT NULL DEFAULT 0,
    last_access DATETIME NOT NULL,
    created_at  DATETIME NOT NULL
)`

const createPositionIndex = `CREATE INDEX IF NOT EXISTS idx_tabs_position ON tabs (position)`

const tabColumns = `id, url, title, position, active, hibernated, last_access, created_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: writes are serialised anyway, and ":memory:"
	// databases are per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createTabsTable, createPositionIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate tabs table: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTab inserts a tab record or replaces the existing one.
func (s *SQLiteStore) SaveTab(ctx context.Context, t *models.Tab) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tabs (`+tabColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			position = excluded.position,
			active = excluded.active,
			hibernated = excluded.hibernated,
			last_access = excluded.last_access`,
		t.ID, t.URL, t.Title, t.Position, t.Active, t.Hibernated,
		t.LastAccess.UTC(), t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save tab: %w", err)
	}
	return nil
}

// GetTab retrieves a tab by ID.
func (s *SQLiteStore) GetTab(ctx context.Context, id string) (*models.Tab, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tabColumns+` FROM tabs WHERE id = ?`, id)
	t, err := scanTab(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tab: %w", err)
	}
	return t, nil
}

// ListTabs returns every tab ordered by position.
func (s *SQLiteStore) ListTabs(ctx context.Context) ([]*models.Tab, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tabColumns+` FROM tabs ORDER BY position ASC, created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	defer rows.Close()

	tabs := []*models.Tab{}
	for rows.Next() {
		t, err := scanTab(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		tabs = append(tabs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tabs: %w", err)
	}
	return tabs, nil
}

// DeleteTab removes a tab record.
func (s *SQLiteStore) DeleteTab(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tabs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete tab: %w", err)
	}
	return checkAffected(result)
}

// SetHibernated flips the hibernated flag of a tab.
func (s *SQLiteStore) SetHibernated(ctx context.Context, id string, hibernated bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tabs SET hibernated = ? WHERE id = ?", hibernated, id,
	)
	if err != nil {
		return fmt.Errorf("set hibernated: %w", err)
	}
	return checkAffected(result)
}

// Touch updates last_access and, when non-empty, the url and title.
func (s *SQLiteStore) Touch(ctx context.Context, id, url, title string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tabs SET
			last_access = ?,
			url = COALESCE(NULLIF(?, ''), url),
			title = COALESCE(NULLIF(?, ''), title)
		WHERE id = ?`,
		at.UTC(), url, title, id,
	)
	if err != nil {
		return fmt.Errorf("touch tab: %w", err)
	}
	return checkAffected(result)
}

// NextPosition returns one past the highest stored position, or 0.
func (s *SQLiteStore) NextPosition(ctx context.Context) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(position) + 1, 0) FROM tabs",
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next position: %w", err)
	}
	return next, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTab(r rowScanner) (*models.Tab, error) {
	t := &models.Tab{}
	if err := r.Scan(
		&t.ID, &t.URL, &t.Title, &t.Position, &t.Active, &t.Hibernated,
		&t.LastAccess, &t.CreatedAt,
	); err != nil {
		return nil, err
	}
	return t, nil
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
