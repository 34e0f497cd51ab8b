package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS patients (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL,
        gender TEXT NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        patient_id INTEGER NOT NULL,
        age INTEGER NOT NULL,
        symptoms TEXT NOT NULL,
        diagnosis TEXT NOT NULL,
        doctor_id INTEGER,
        advice TEXT NOT NULL,
        medicine TEXT NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS doctors (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL,
        specialization TEXT NOT NULL,
        experiance TEXT NOT NULL
    )`,
}

// SQLiteRepo is an embedded store for local runs and tests.
type SQLiteRepo struct {
	db *sql.DB
}

// NewSQLiteRepo opens (or creates) the database file at path.
func NewSQLiteRepo(ctx context.Context, path string) (*SQLiteRepo, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", ErrUnsupportedURL)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	return &SQLiteRepo{db: db}, nil
}

func (r *SQLiteRepo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepo) CreateDoctor(ctx context.Context, d *Doctor) (*Doctor, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO doctors (name, specialization, experiance) VALUES (?, ?, ?)`,
		d.Name, d.Specialization, d.Experience)
	if err != nil {
		return nil, fmt.Errorf("insert doctor: %w", err)
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("insert doctor: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepo) CreatePatient(ctx context.Context, p *Patient) (*Patient, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO patients (name, gender) VALUES (?, ?)`, p.Name, p.Gender)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepo) CreatePrescription(ctx context.Context, p *Prescription) (*Prescription, error) {
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO prescriptions (patient_id, age, symptoms, diagnosis, doctor_id, advice, medicine)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.PatientID, p.Age, p.Symptoms, p.Diagnosis, p.DoctorID, p.Advice, p.Medicine)
	if err != nil {
		return nil, fmt.Errorf("insert prescription: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("insert prescription: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepo) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, specialization, experiance FROM doctors ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()
	out := []Doctor{}
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Specialization, &d.Experience); err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) ListPrescriptionDetails(ctx context.Context, patientID int64) ([]PrescriptionDetail, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(detailQuery, "?"), patientID)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()
	out := []PrescriptionDetail{}
	for rows.Next() {
		pd, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pd)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepo) Close() {
	r.db.Close()
}
