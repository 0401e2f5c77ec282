// Package store persists annotation sets and labeling progress in a SQLite database.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/sensorable/boxlabel"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements boxlabel.AnnotationStore.
type Store struct {
	*sql.DB
}

var _ boxlabel.AnnotationStore = (*Store)(nil)

// Open opens or creates the database at path and migrates it to the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp runs all pending migrations up to the latest version.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Not closing m: that would close the underlying DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateTo migrates up or down to a specific schema version.
func (s *Store) MigrateTo(version uint) error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}

	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	return nil
}

// Version returns the current schema version and dirty state.
func (s *Store) Version() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// GetAnnotations returns the annotation set saved for imageID.
func (s *Store) GetAnnotations(imageID string) (boxlabel.AnnotationSet, bool, error) {
	row := s.QueryRow(`
		SELECT image_file, original_width, original_height
		FROM annotation_sets WHERE image_id = ?`, imageID)

	set := boxlabel.AnnotationSet{ImageID: imageID}
	var width, height sql.NullInt64
	if err := row.Scan(&set.ImageFile, &width, &height); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return boxlabel.AnnotationSet{}, false, nil
		}
		return boxlabel.AnnotationSet{}, false, err
	}
	set.OriginalWidth = int(width.Int64)
	set.OriginalHeight = int(height.Int64)

	records, err := s.records(imageID)
	if err != nil {
		return boxlabel.AnnotationSet{}, false, err
	}
	set.Annotations = records
	return set, true, nil
}

// AllAnnotations returns every saved annotation set in the order the sets were first saved.
func (s *Store) AllAnnotations() ([]boxlabel.AnnotationSet, error) {
	rows, err := s.Query(`
		SELECT image_id, image_file, original_width, original_height
		FROM annotation_sets ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []boxlabel.AnnotationSet
	for rows.Next() {
		var set boxlabel.AnnotationSet
		var width, height sql.NullInt64
		if err := rows.Scan(&set.ImageID, &set.ImageFile, &width, &height); err != nil {
			return nil, err
		}
		set.OriginalWidth = int(width.Int64)
		set.OriginalHeight = int(height.Int64)
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range sets {
		if sets[i].Annotations, err = s.records(sets[i].ImageID); err != nil {
			return nil, err
		}
	}
	return sets, nil
}

func (s *Store) records(imageID string) ([]boxlabel.LabelRecord, error) {
	rows, err := s.Query(`
		SELECT x1, y1, x2, y2, label FROM annotations
		WHERE image_id = ? ORDER BY position`, imageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []boxlabel.LabelRecord
	for rows.Next() {
		var r boxlabel.LabelRecord
		if err := rows.Scan(&r.Rect.X1, &r.Rect.Y1, &r.Rect.X2, &r.Rect.Y2, &r.Label); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PutAnnotations saves set, replacing any set saved for the same image. A replaced set keeps its
// position in the AllAnnotations order.
func (s *Store) PutAnnotations(set boxlabel.AnnotationSet) (err error) {
	if set.ImageID == "" || set.ImageFile == "" {
		return fmt.Errorf("annotation set needs an image id and file name")
	}

	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.Exec(`
		INSERT INTO annotation_sets (image_id, image_file, original_width, original_height)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(image_id) DO UPDATE SET
			image_file = excluded.image_file,
			original_width = excluded.original_width,
			original_height = excluded.original_height`,
		set.ImageID, set.ImageFile, nullableSize(set.OriginalWidth), nullableSize(set.OriginalHeight))
	if err != nil {
		return fmt.Errorf("failed to save annotation set %q: %v", set.ImageID, err)
	}

	if _, err = tx.Exec(`DELETE FROM annotations WHERE image_id = ?`, set.ImageID); err != nil {
		return err
	}
	for i, a := range set.Annotations {
		_, err = tx.Exec(`
			INSERT INTO annotations (image_id, position, x1, y1, x2, y2, label)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			set.ImageID, i, a.Rect.X1, a.Rect.Y1, a.Rect.X2, a.Rect.Y2, a.Label)
		if err != nil {
			return fmt.Errorf("failed to save annotation %d of %q: %v", i, set.ImageID, err)
		}
	}

	return tx.Commit()
}

// nullableSize stores unknown (non-positive) sizes as NULL.
func nullableSize(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v > 0}
}

// GetProgress returns the saved resume position for folderKey.
func (s *Store) GetProgress(folderKey string) (int, bool, error) {
	var index int
	err := s.QueryRow(`SELECT image_index FROM progress WHERE folder_key = ?`, folderKey).Scan(&index)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return index, true, nil
}

// PutProgress saves the resume position for folderKey.
func (s *Store) PutProgress(folderKey string, index int) error {
	_, err := s.Exec(`
		INSERT INTO progress (folder_key, image_index) VALUES (?, ?)
		ON CONFLICT(folder_key) DO UPDATE SET image_index = excluded.image_index`,
		folderKey, index)
	if err != nil {
		return fmt.Errorf("failed to save progress for %q: %v", folderKey, err)
	}
	return nil
}
