package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"clinicrecords/internal/store"
)

// fakeRepo implements store.Repository for tests
type fakeRepo struct {
	// configurable outputs
	doctors    []store.Doctor
	details    []store.PrescriptionDetail
	createErr  error
	listErr    error
	pingErr    error
	listPanics bool
	// capture inputs
	gotDoctor       *store.Doctor
	gotPatient      *store.Patient
	gotPrescription *store.Prescription
	gotPatientID    int64
	listCalls       int
}

func (f *fakeRepo) EnsureSchema(context.Context) error { return nil }
func (f *fakeRepo) CreateDoctor(_ context.Context, d *store.Doctor) (*store.Doctor, error) {
	f.gotDoctor = d
	if f.createErr != nil {
		return nil, f.createErr
	}
	d.ID = 1
	return d, nil
}
func (f *fakeRepo) CreatePatient(_ context.Context, p *store.Patient) (*store.Patient, error) {
	f.gotPatient = p
	if f.createErr != nil {
		return nil, f.createErr
	}
	p.ID = 1
	return p, nil
}
func (f *fakeRepo) CreatePrescription(_ context.Context, p *store.Prescription) (*store.Prescription, error) {
	f.gotPrescription = p
	if f.createErr != nil {
		return nil, f.createErr
	}
	p.ID = 1
	return p, nil
}
func (f *fakeRepo) ListDoctors(context.Context) ([]store.Doctor, error) {
	f.listCalls++
	if f.listPanics {
		panic("boom")
	}
	return f.doctors, f.listErr
}
func (f *fakeRepo) ListPrescriptionDetails(_ context.Context, patientID int64) ([]store.PrescriptionDetail, error) {
	f.gotPatientID = patientID
	return f.details, f.listErr
}
func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }
func (f *fakeRepo) Close()                     {}

// fakeCache implements store.DoctorCache in memory.
type fakeCache struct {
	body        []byte
	gen         int64
	getErr      error
	invalidated int
}

func (c *fakeCache) GetDoctors(context.Context) ([]byte, int64, bool, error) {
	if c.getErr != nil {
		return nil, 0, false, c.getErr
	}
	return c.body, c.gen, c.body != nil, nil
}
func (c *fakeCache) SetDoctors(_ context.Context, gen int64, body []byte) error {
	if gen == c.gen {
		c.body = body
	}
	return nil
}
func (c *fakeCache) InvalidateDoctors(context.Context) error {
	c.invalidated++
	c.gen++
	c.body = nil
	return nil
}

// doctorsRepo keeps doctors in memory. When hold is set, the first ListDoctors
// takes its snapshot, signals snapshot and waits for release.
type doctorsRepo struct {
	fakeRepo
	mu       sync.Mutex
	list     []store.Doctor
	hold     bool
	snapshot chan struct{}
	release  chan struct{}
}

func (r *doctorsRepo) CreateDoctor(_ context.Context, d *store.Doctor) (*store.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = int64(len(r.list) + 1)
	r.list = append(r.list, *d)
	return d, nil
}

func (r *doctorsRepo) ListDoctors(context.Context) ([]store.Doctor, error) {
	r.mu.Lock()
	out := slices.Clone(r.list)
	hold := r.hold
	r.hold = false
	r.mu.Unlock()
	if hold {
		close(r.snapshot)
		<-r.release
	}
	return out, nil
}

func newTestServer(t *testing.T, repo store.Repository, cache store.DoctorCache) *Server {
	t.Helper()
	srv, err := NewServer(Config{Repo: repo, DoctorCache: cache})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func do(srv *Server, method, path, body string) Response {
	return srv.dispatch(context.Background(), &Request{Method: method, Path: path, Body: body})
}

func TestCreateHandlers(t *testing.T) {
	cases := []struct {
		name       string
		path       string
		body       string
		createErr  error
		wantStatus int
		wantBody   string
	}{
		{"doctor ok", "/doctor", `{"name":"Ann","specialization":"ENT","experiance":"5 years"}`, nil, http.StatusOK, "Doctor created"},
		{"doctor id ignored", "/doctor", `{"id":99,"name":"Ann","specialization":"ENT","experiance":"5"}`, nil, http.StatusOK, "Doctor created"},
		{"doctor missing field", "/doctor", `{"name":"Ann","specialization":"ENT"}`, nil, http.StatusInternalServerError, "Error parsing request"},
		{"doctor null field", "/doctor", `{"name":null,"specialization":"ENT","experiance":"5"}`, nil, http.StatusInternalServerError, "Error parsing request"},
		{"doctor id wrong type", "/doctor", `{"id":"abc","name":"Ann","specialization":"ENT","experiance":"5"}`, nil, http.StatusInternalServerError, "Error parsing request"},
		{"doctor null id", "/doctor", `{"id":null,"name":"Ann","specialization":"ENT","experiance":"5"}`, nil, http.StatusOK, "Doctor created"},
		{"doctor key case differs", "/doctor", `{"NAME":"Ann","specialization":"ENT","experiance":"5"}`, nil, http.StatusInternalServerError, "Error parsing request"},
		{"doctor not json", "/doctor", `name=Ann`, nil, http.StatusInternalServerError, "Error parsing request"},
		{"doctor store failure", "/doctor", `{"name":"Ann","specialization":"ENT","experiance":"5"}`, errors.New("db down"), http.StatusInternalServerError, "Error creating doctor"},
		{"patient ok", "/patient", `{"name":"Bo","gender":"m"}`, nil, http.StatusOK, "patient created"},
		{"patient id out of range", "/patient", `{"id":3000000000,"name":"Bo","gender":"m"}`, nil, http.StatusInternalServerError, "Error parsing request"},
		{"patient extra key", "/patient", `{"name":"Bo","gender":"m","ward":"B"}`, nil, http.StatusOK, "patient created"},
		{"patient array body", "/patient", `[]`, nil, http.StatusInternalServerError, "Error parsing request"},
		{"patient empty body", "/patient", ``, nil, http.StatusInternalServerError, "Error parsing request"},
		{"patient store failure", "/patient", `{"name":"Bo","gender":"m"}`, errors.New("db down"), http.StatusInternalServerError, "Error creating patient"},
		{"prescription ok", "/prescription", `{"patient_id":3,"age":40,"symptoms":"s","diagnosis":"d","doctor_id":1,"advice":"a","medicine":"m"}`, nil, http.StatusOK, "prescription created"},
		{"prescription wrong type", "/prescription", `{"patient_id":"3","age":40,"symptoms":"s","diagnosis":"d","doctor_id":1,"advice":"a","medicine":"m"}`, nil, http.StatusInternalServerError, "Error parsing request"},
		{"prescription id overflow", "/prescription", `{"patient_id":3000000000,"age":40,"symptoms":"s","diagnosis":"d","doctor_id":1,"advice":"a","medicine":"m"}`, nil, http.StatusInternalServerError, "Error parsing request"},
		{"prescription store failure", "/prescription", `{"patient_id":3,"age":40,"symptoms":"s","diagnosis":"d","doctor_id":1,"advice":"a","medicine":"m"}`, errors.New("db down"), http.StatusInternalServerError, "Error creating prescription"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeRepo{createErr: tc.createErr}
			srv := newTestServer(t, repo, nil)
			resp := do(srv, http.MethodPost, tc.path, tc.body)
			if resp.Status != tc.wantStatus || string(resp.Body) != tc.wantBody {
				t.Fatalf("got %d %q, want %d %q", resp.Status, resp.Body, tc.wantStatus, tc.wantBody)
			}
		})
	}
}

func TestCreateDoctorPassesFields(t *testing.T) {
	repo := &fakeRepo{}
	srv := newTestServer(t, repo, nil)
	do(srv, http.MethodPost, "/doctor", `{"id":99,"name":"Ann","specialization":"ENT","experiance":"five"}`)
	want := store.Doctor{ID: 1, Name: "Ann", Specialization: "ENT", Experience: "five"}
	if repo.gotDoctor == nil || *repo.gotDoctor != want {
		t.Fatalf("repo got %+v, want %+v", repo.gotDoctor, want)
	}
}

func TestCreatePrescriptionPassesFields(t *testing.T) {
	repo := &fakeRepo{}
	srv := newTestServer(t, repo, nil)
	do(srv, http.MethodPost, "/prescription",
		`{"patient_id":404,"age":7,"symptoms":"fever","diagnosis":"flu","doctor_id":2,"advice":"sleep","medicine":"syrup"}`)
	want := store.Prescription{ID: 1, PatientID: 404, Age: 7, Symptoms: "fever", Diagnosis: "flu",
		DoctorID: 2, Advice: "sleep", Medicine: "syrup"}
	if repo.gotPrescription == nil || *repo.gotPrescription != want {
		t.Fatalf("repo got %+v, want %+v", repo.gotPrescription, want)
	}
}

func TestListDoctors(t *testing.T) {
	repo := &fakeRepo{doctors: []store.Doctor{{ID: 1, Name: "Ann", Specialization: "ENT", Experience: "5"}}}
	srv := newTestServer(t, repo, nil)
	resp := do(srv, http.MethodGet, "/doctor", "")
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, body=%s", resp.Status, resp.Body)
	}
	want := `[{"id":1,"name":"Ann","specialization":"ENT","experiance":"5"}]`
	if string(resp.Body) != want {
		t.Fatalf("body = %s, want %s", resp.Body, want)
	}
}

func TestListDoctorsEmptyIsArray(t *testing.T) {
	srv := newTestServer(t, &fakeRepo{}, nil)
	resp := do(srv, http.MethodGet, "/doctor", "")
	if resp.Status != http.StatusOK || string(resp.Body) != "[]" {
		t.Fatalf("got %d %s, want 200 []", resp.Status, resp.Body)
	}
}

func TestListDoctorsQueryFailureIsInternalError(t *testing.T) {
	srv := newTestServer(t, &fakeRepo{listErr: errors.New("relation does not exist")}, nil)
	resp := do(srv, http.MethodGet, "/doctor", "")
	if resp.Status != http.StatusInternalServerError || string(resp.Body) != "Error" {
		t.Fatalf("got %d %q", resp.Status, resp.Body)
	}
}

func TestHandlerPanicIsInternalError(t *testing.T) {
	srv := newTestServer(t, &fakeRepo{listPanics: true}, nil)
	resp := do(srv, http.MethodGet, "/doctor", "")
	if resp.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.Status)
	}
}

func TestListDoctorsUsesCache(t *testing.T) {
	repo := &fakeRepo{doctors: []store.Doctor{{ID: 1, Name: "Ann"}}}
	cache := &fakeCache{}
	srv := newTestServer(t, repo, cache)

	first := do(srv, http.MethodGet, "/doctor", "")
	second := do(srv, http.MethodGet, "/doctor", "")
	if repo.listCalls != 1 {
		t.Fatalf("store list calls = %d, want 1", repo.listCalls)
	}
	if string(first.Body) != string(second.Body) {
		t.Fatalf("cached body %s differs from %s", second.Body, first.Body)
	}

	do(srv, http.MethodPost, "/doctor", `{"name":"Bo","specialization":"GP","experiance":"1"}`)
	if cache.invalidated != 1 {
		t.Fatalf("cache invalidations = %d, want 1", cache.invalidated)
	}
	do(srv, http.MethodGet, "/doctor", "")
	if repo.listCalls != 2 {
		t.Fatalf("store list calls = %d, want 2 after invalidation", repo.listCalls)
	}
}

func TestListDoctorsCacheNotPoisonedByConcurrentCreate(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := store.NewRedisDoctorCache(mr.Addr(), "", "test", time.Minute)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer cache.Close()
	repo := &doctorsRepo{hold: true, snapshot: make(chan struct{}), release: make(chan struct{})}
	srv := newTestServer(t, repo, cache)

	// the first list reads the store before the create and writes the cache after it
	done := make(chan Response, 1)
	go func() { done <- do(srv, http.MethodGet, "/doctor", "") }()
	<-repo.snapshot
	if resp := do(srv, http.MethodPost, "/doctor", `{"name":"Ann","specialization":"ENT","experiance":"5"}`); resp.Status != http.StatusOK {
		t.Fatalf("create = %d %s", resp.Status, resp.Body)
	}
	close(repo.release)
	if stale := <-done; string(stale.Body) != "[]" {
		t.Fatalf("in-flight list = %s, want the earlier snapshot", stale.Body)
	}

	resp := do(srv, http.MethodGet, "/doctor", "")
	if resp.Status != http.StatusOK || !strings.Contains(string(resp.Body), `"name":"Ann"`) {
		t.Fatalf("list after create = %d %s", resp.Status, resp.Body)
	}
}

func TestListDoctorsCacheErrorFallsThrough(t *testing.T) {
	repo := &fakeRepo{doctors: []store.Doctor{{ID: 1, Name: "Ann"}}}
	srv := newTestServer(t, repo, &fakeCache{getErr: errors.New("redis down")})
	resp := do(srv, http.MethodGet, "/doctor", "")
	if resp.Status != http.StatusOK || repo.listCalls != 1 {
		t.Fatalf("got %d with %d store calls", resp.Status, repo.listCalls)
	}
}

func TestPatientPrescriptions(t *testing.T) {
	detail := store.PrescriptionDetail{
		PrescriptionID: 5, PatientID: 42, Age: 30, Symptoms: "s", Diagnosis: "d",
		DoctorID: 1, Advice: "a", Medicine: "m", DoctorName: "Ann", DoctorSpecialization: "ENT",
	}
	cases := []struct {
		name       string
		path       string
		repo       *fakeRepo
		wantStatus int
		wantBody   string
	}{
		{"found", "/prescription-list/42", &fakeRepo{details: []store.PrescriptionDetail{detail}}, http.StatusOK,
			`[{"prescription_id":5,"patient_id":42,"age":30,"symptoms":"s","diagnosis":"d","doctor_id":1,"advice":"a","medicine":"m","doctor_name":"Ann","doctor_specialization":"ENT"}]`},
		{"none", "/prescription-list/7", &fakeRepo{}, http.StatusOK, "[]"},
		{"non numeric", "/prescription-list/abc", &fakeRepo{}, http.StatusBadRequest, "Invalid patient ID"},
		{"out of range", "/prescription-list/9999999999", &fakeRepo{}, http.StatusBadRequest, "Invalid patient ID"},
		{"query failure", "/prescription-list/1", &fakeRepo{listErr: errors.New("timeout")}, http.StatusInternalServerError, "Error connecting to the database"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, tc.repo, nil)
			resp := do(srv, http.MethodGet, tc.path, "")
			if resp.Status != tc.wantStatus || string(resp.Body) != tc.wantBody {
				t.Fatalf("got %d %s, want %d %s", resp.Status, resp.Body, tc.wantStatus, tc.wantBody)
			}
		})
	}
}

func TestPatientPrescriptionsPassesID(t *testing.T) {
	repo := &fakeRepo{}
	srv := newTestServer(t, repo, nil)
	do(srv, http.MethodGet, "/prescription-list/-3", "")
	if repo.gotPatientID != -3 {
		t.Fatalf("patient id = %d, want -3", repo.gotPatientID)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	srv := newTestServer(t, &fakeRepo{}, nil)
	if resp := do(srv, http.MethodGet, "/healthz", ""); resp.Status != http.StatusOK || string(resp.Body) != `{"status":"ok"}` {
		t.Fatalf("healthz = %d %s", resp.Status, resp.Body)
	}

	var body map[string]string
	resp := do(srv, http.MethodGet, "/readyz", "")
	if err := json.Unmarshal(resp.Body, &body); err != nil || resp.Status != http.StatusOK || body["db"] != "ok" {
		t.Fatalf("readyz = %d %s (%v)", resp.Status, resp.Body, err)
	}

	down := newTestServer(t, &fakeRepo{pingErr: errors.New("refused")}, nil)
	resp = do(down, http.MethodGet, "/readyz", "")
	if err := json.Unmarshal(resp.Body, &body); err != nil || resp.Status != http.StatusServiceUnavailable || body["db"] != "down" {
		t.Fatalf("readyz down = %d %s (%v)", resp.Status, resp.Body, err)
	}
}

func TestNewServerRequiresRepo(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Fatal("expected error without repository")
	}
}
