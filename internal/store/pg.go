package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS patients (
        id SERIAL PRIMARY KEY,
        name VARCHAR NOT NULL,
        gender VARCHAR NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
        id SERIAL PRIMARY KEY,
        patient_id INTEGER NOT NULL,
        age INTEGER NOT NULL,
        symptoms VARCHAR NOT NULL,
        diagnosis VARCHAR NOT NULL,
        doctor_id INTEGER,
        advice VARCHAR NOT NULL,
        medicine VARCHAR NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS doctors (
        id SERIAL PRIMARY KEY,
        name VARCHAR NOT NULL,
        specialization VARCHAR NOT NULL,
        experiance VARCHAR NOT NULL
    )`,
}

const detailQuery = `
    SELECT p.id AS prescription_id, p.patient_id, p.age, p.symptoms, p.diagnosis,
           p.doctor_id, p.advice, p.medicine,
           d.name AS doctor_name, d.specialization AS doctor_specialization
    FROM prescriptions p
    INNER JOIN doctors d ON p.doctor_id = d.id
    WHERE p.patient_id = %s
    ORDER BY p.id ASC`

// PGRepo is the Postgres implementation backed by a connection pool.
type PGRepo struct{ pool *pgxpool.Pool }

func NewPGRepo(ctx context.Context, dsn string) (*PGRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &PGRepo{pool: pool}, nil
}

func (r *PGRepo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range pgSchema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", describePG(err))
		}
	}
	return nil
}

func (r *PGRepo) CreateDoctor(ctx context.Context, d *Doctor) (*Doctor, error) {
	const q = `INSERT INTO doctors (name, specialization, experiance) VALUES ($1, $2, $3) RETURNING id`
	if err := r.pool.QueryRow(ctx, q, d.Name, d.Specialization, d.Experience).Scan(&d.ID); err != nil {
		return nil, fmt.Errorf("insert doctor: %w", describePG(err))
	}
	return d, nil
}

func (r *PGRepo) CreatePatient(ctx context.Context, p *Patient) (*Patient, error) {
	const q = `INSERT INTO patients (name, gender) VALUES ($1, $2) RETURNING id`
	if err := r.pool.QueryRow(ctx, q, p.Name, p.Gender).Scan(&p.ID); err != nil {
		return nil, fmt.Errorf("insert patient: %w", describePG(err))
	}
	return p, nil
}

func (r *PGRepo) CreatePrescription(ctx context.Context, p *Prescription) (*Prescription, error) {
	const q = `
        INSERT INTO prescriptions (patient_id, age, symptoms, diagnosis, doctor_id, advice, medicine)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id
    `
	row := r.pool.QueryRow(ctx, q, p.PatientID, p.Age, p.Symptoms, p.Diagnosis, p.DoctorID, p.Advice, p.Medicine)
	if err := row.Scan(&p.ID); err != nil {
		return nil, fmt.Errorf("insert prescription: %w", describePG(err))
	}
	return p, nil
}

func (r *PGRepo) ListDoctors(ctx context.Context) ([]Doctor, error) {
	const q = `SELECT id, name, specialization, experiance FROM doctors ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", describePG(err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Doctor, error) {
		var d Doctor
		err := row.Scan(&d.ID, &d.Name, &d.Specialization, &d.Experience)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan doctors: %w", describePG(err))
	}
	if out == nil {
		out = []Doctor{}
	}
	return out, nil
}

func (r *PGRepo) ListPrescriptionDetails(ctx context.Context, patientID int64) ([]PrescriptionDetail, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(detailQuery, "$1"), patientID)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", describePG(err))
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

func (r *PGRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PGRepo) Close() {
	r.pool.Close()
}

// rowScanner is satisfied by pgx.Rows and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDetail(row rowScanner) (PrescriptionDetail, error) {
	var pd PrescriptionDetail
	err := row.Scan(
		&pd.PrescriptionID, &pd.PatientID, &pd.Age, &pd.Symptoms, &pd.Diagnosis,
		&pd.DoctorID, &pd.Advice, &pd.Medicine,
		&pd.DoctorName, &pd.DoctorSpecialization,
	)
	if err != nil {
		return pd, fmt.Errorf("scan prescription detail: %w", err)
	}
	return pd, nil
}

// describePG adds the SQLSTATE code to Postgres errors; the wrapped error is kept.
func describePG(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("sqlstate %s: %w", pgErr.Code, err)
	}
	return err
}
