package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/leca/dt-image-store/internal/model"
)

// ErrNotFound is returned when no journal row matches.
var ErrNotFound = errors.New("image not found")

// Compile-time check that SQLiteDB implements Database.
var _ Database = (*SQLiteDB)(nil)

// SQLiteDB implements Database backed by SQLite.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (or creates) an SQLite database at dsn and runs migrations.
// For in-memory use pass "file::memory:".
func NewSQLiteDB(dsn string) (*SQLiteDB, error) {
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps in-memory databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) RecordImage(img model.Image) error {
	_, err := s.db.Exec(`
		INSERT INTO images (name, content_type, size, uploaded)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			content_type = excluded.content_type,
			size = excluded.size,
			uploaded = excluded.uploaded`,
		img.Name, string(img.ContentType), img.Size, formatTime(img.Uploaded),
	)
	if err != nil {
		return fmt.Errorf("record image: %w", err)
	}
	return nil
}

func (s *SQLiteDB) DeleteImage(name string) error {
	res, err := s.db.Exec(`DELETE FROM images WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteDB) GetImage(name string) (model.Image, error) {
	row := s.db.QueryRow(`
		SELECT name, content_type, size, uploaded
		FROM images WHERE name = ?`, name)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Image{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return img, err
}

func (s *SQLiteDB) ListImages(page, perPage int) ([]model.Image, int, error) {
	total, err := s.CountImages()
	if err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	rows, err := s.db.Query(`
		SELECT name, content_type, size, uploaded
		FROM images
		ORDER BY uploaded ASC, name ASC
		LIMIT ? OFFSET ?`,
		perPage, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	images, err := scanImages(rows)
	if err != nil {
		return nil, 0, err
	}
	return images, total, nil
}

func (s *SQLiteDB) CountImages() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM images`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return count, nil
}

func (s *SQLiteDB) Reconcile(images []model.Image) (added, removed int, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("begin reconcile: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	known := make(map[string]bool)
	rows, err := tx.Query(`SELECT name FROM images`)
	if err != nil {
		return 0, 0, fmt.Errorf("reconcile: list names: %w", err)
	}
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("reconcile: scan name: %w", err)
		}
		known[name] = false
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("reconcile: list names: %w", err)
	}

	for _, img := range images {
		if _, ok := known[img.Name]; ok {
			known[img.Name] = true
			continue
		}
		if _, err = tx.Exec(`
			INSERT INTO images (name, content_type, size, uploaded) VALUES (?, ?, ?, ?)`,
			img.Name, string(img.ContentType), img.Size, formatTime(img.Uploaded),
		); err != nil {
			return 0, 0, fmt.Errorf("reconcile: insert %s: %w", img.Name, err)
		}
		added++
	}

	for name, present := range known {
		if present {
			continue
		}
		if _, err = tx.Exec(`DELETE FROM images WHERE name = ?`, name); err != nil {
			return 0, 0, fmt.Errorf("reconcile: delete %s: %w", name, err)
		}
		removed++
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit reconcile: %w", err)
	}
	return added, removed, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanImage(row scannable) (model.Image, error) {
	var (
		img         model.Image
		ct          string
		uploadedStr string
	)
	if err := row.Scan(&img.Name, &ct, &img.Size, &uploadedStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Image{}, err
		}
		return model.Image{}, fmt.Errorf("scan image: %w", err)
	}
	img.ContentType = model.ContentType(ct)
	img.Uploaded, _ = time.Parse(time.RFC3339Nano, uploadedStr)
	return img, nil
}

func scanImages(rows *sql.Rows) ([]model.Image, error) {
	var images []model.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
