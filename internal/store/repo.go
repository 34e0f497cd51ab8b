package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Repository abstracts the record store for the handlers and for tests.
type Repository interface {
	// EnsureSchema creates the doctors, patients and prescriptions tables if absent.
	EnsureSchema(ctx context.Context) error
	CreateDoctor(ctx context.Context, d *Doctor) (*Doctor, error)
	CreatePatient(ctx context.Context, p *Patient) (*Patient, error)
	CreatePrescription(ctx context.Context, p *Prescription) (*Prescription, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	// ListPrescriptionDetails returns the patient's prescriptions joined with their
	// doctor. Prescriptions whose doctor_id matches no doctor are left out.
	ListPrescriptionDetails(ctx context.Context, patientID int64) ([]PrescriptionDetail, error)
	Ping(ctx context.Context) error
	Close()
}

// ErrUnsupportedURL means the database URL scheme selects no known store.
var ErrUnsupportedURL = errors.New("unsupported database url")

// Open connects the repository selected by the URL scheme:
// postgres:// and postgresql:// open a PGRepo, sqlite:// and file: open a SQLiteRepo.
func Open(ctx context.Context, databaseURL string) (Repository, error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return NewPGRepo(ctx, u)
	case strings.HasPrefix(u, "sqlite://"):
		return NewSQLiteRepo(ctx, strings.TrimPrefix(u, "sqlite://"))
	case strings.HasPrefix(u, "file:"):
		return NewSQLiteRepo(ctx, u)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, redactURL(u))
	}
}

// redactURL drops anything between the scheme and '@' so credentials never reach logs.
func redactURL(u string) string {
	at := strings.LastIndex(u, "@")
	scheme := strings.Index(u, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return u
	}
	return u[:scheme+3] + "***" + u[at:]
}
