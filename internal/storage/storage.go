package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for conversion jobs.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL DEFAULT 'pending',
            progress INTEGER NOT NULL DEFAULT 0,
            original_filename TEXT NOT NULL,
            upload_path TEXT NOT NULL,
            musicxml_path TEXT,
            pdf_path TEXT,
            transpose_semitones INTEGER,
            transpose_from_key TEXT,
            transpose_to_key TEXT,
            error_message TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            completed_at TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID                 string
	Status             string
	Progress           int
	OriginalFilename   string
	UploadPath         string
	MusicXMLPath       string
	PDFPath            string
	TransposeSemitones *int
	TransposeFromKey   string
	TransposeToKey     string
	Error              string
	CreatedAt          time.Time
	CompletedAt        *time.Time
}

// CreateJob inserts a pending job.
func (s *Store) CreateJob(rec JobRecord) error {
	if s == nil {
		return nil
	}
	var semitones any
	if rec.TransposeSemitones != nil {
		semitones = *rec.TransposeSemitones
	}
	_, err := s.DB.Exec(`INSERT INTO jobs (id, status, progress, original_filename, upload_path, transpose_semitones, transpose_from_key, transpose_to_key)
        VALUES (?, 'pending', 0, ?, ?, ?, ?, ?);`,
		rec.ID, rec.OriginalFilename, rec.UploadPath, semitones, nullIfEmpty(rec.TransposeFromKey), nullIfEmpty(rec.TransposeToKey))
	return err
}

// SetProgress updates status and progress for a running job.
func (s *Store) SetProgress(id, status string, progress int) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE jobs SET status=?, progress=? WHERE id=?;`, status, progress, id)
	return err
}

// SetMusicXMLPath records the recognized notation document path.
func (s *Store) SetMusicXMLPath(id, path string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE jobs SET musicxml_path=? WHERE id=?;`, path, id)
	return err
}

// Complete marks a job as finished with its PDF artifact.
func (s *Store) Complete(id, pdfPath string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE jobs SET status='completed', progress=100, pdf_path=?, completed_at=CURRENT_TIMESTAMP WHERE id=?;`, pdfPath, id)
	return err
}

// Fail marks a job as failed with a user-facing message.
func (s *Store) Fail(id, message string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE jobs SET status='failed', error_message=?, completed_at=CURRENT_TIMESTAMP WHERE id=?;`, message, id)
	return err
}

// Job fetches a single job by id.
func (s *Store) Job(id string) (JobRecord, error) {
	if s == nil {
		return JobRecord{}, errors.New("store not initialized")
	}
	row := s.DB.QueryRow(`SELECT id, status, progress, original_filename, upload_path, musicxml_path, pdf_path,
        transpose_semitones, transpose_from_key, transpose_to_key, error_message, created_at, completed_at
        FROM jobs WHERE id=?;`, id)
	return scanJob(row)
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, status, progress, original_filename, upload_path, musicxml_path, pdf_path,
        transpose_semitones, transpose_from_key, transpose_to_key, error_message, created_at, completed_at
        FROM jobs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (JobRecord, error) {
	var rec JobRecord
	var musicxml, pdf, fromKey, toKey, errMsg sql.NullString
	var semitones sql.NullInt64
	var created time.Time
	var completed sql.NullTime
	if err := row.Scan(&rec.ID, &rec.Status, &rec.Progress, &rec.OriginalFilename, &rec.UploadPath,
		&musicxml, &pdf, &semitones, &fromKey, &toKey, &errMsg, &created, &completed); err != nil {
		return JobRecord{}, err
	}
	rec.MusicXMLPath = musicxml.String
	rec.PDFPath = pdf.String
	rec.TransposeFromKey = fromKey.String
	rec.TransposeToKey = toKey.String
	rec.Error = errMsg.String
	rec.CreatedAt = created
	if semitones.Valid {
		v := int(semitones.Int64)
		rec.TransposeSemitones = &v
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	return rec, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
