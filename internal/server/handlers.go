package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"clinicrecords/internal/store"
	"clinicrecords/internal/util"
)

// Creation payloads. Fields are pointers so a missing field can be told apart
// from an empty one; every field is required. An "id" in the body must be an
// integer or null and is otherwise ignored.
type createDoctorReq struct {
	ID             *int32  `json:"id"`
	Name           *string `json:"name"`
	Specialization *string `json:"specialization"`
	Experience     *string `json:"experiance"`
}

func (req *createDoctorReq) validate() error {
	return requireFields(map[string]bool{
		"name":           req.Name != nil,
		"specialization": req.Specialization != nil,
		"experiance":     req.Experience != nil,
	})
}

type createPatientReq struct {
	ID     *int32  `json:"id"`
	Name   *string `json:"name"`
	Gender *string `json:"gender"`
}

func (req *createPatientReq) validate() error {
	return requireFields(map[string]bool{
		"name":   req.Name != nil,
		"gender": req.Gender != nil,
	})
}

type createPrescriptionReq struct {
	ID        *int32  `json:"id"`
	PatientID *int32  `json:"patient_id"`
	Age       *int32  `json:"age"`
	Symptoms  *string `json:"symptoms"`
	Diagnosis *string `json:"diagnosis"`
	DoctorID  *int32  `json:"doctor_id"`
	Advice    *string `json:"advice"`
	Medicine  *string `json:"medicine"`
}

func (req *createPrescriptionReq) validate() error {
	return requireFields(map[string]bool{
		"patient_id": req.PatientID != nil,
		"age":        req.Age != nil,
		"symptoms":   req.Symptoms != nil,
		"diagnosis":  req.Diagnosis != nil,
		"doctor_id":  req.DoctorID != nil,
		"advice":     req.Advice != nil,
		"medicine":   req.Medicine != nil,
	})
}

// requireFields reports the first missing field in a stable order.
func requireFields(present map[string]bool) error {
	var missing []string
	for name, ok := range present {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("missing field %q", missing[0])
}

type validator interface {
	validate() error
}

// decodeBody decodes a JSON object into v and validates it. Keys must match
// the json tags exactly; keys differing only in case are ignored like any
// other unknown key instead of being folded onto a field.
func decodeBody(body string, v validator) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return err
	}
	known := jsonKeys(v)
	exact := make(map[string]json.RawMessage, len(known))
	for k, val := range raw {
		if slices.Contains(known, k) {
			exact[k] = val
		}
	}
	data, err := json.Marshal(exact)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	return v.validate()
}

// jsonKeys lists the json tag names of the struct v points to.
func jsonKeys(v any) []string {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys = append(keys, name)
		}
	}
	return keys
}

func (s *Server) handleCreateDoctor(ctx context.Context, req *Request) Response {
	log := util.LoggerFromContext(ctx)
	var in createDoctorReq
	if err := decodeBody(req.Body, &in); err != nil {
		log.Warn("decode doctor payload", "err", err)
		return textResponse(http.StatusInternalServerError, msgParseError)
	}
	d := &store.Doctor{Name: *in.Name, Specialization: *in.Specialization, Experience: *in.Experience}
	if _, err := s.repo.CreateDoctor(ctx, d); err != nil {
		log.Error("create doctor", "err", err)
		return textResponse(http.StatusInternalServerError, "Error creating doctor")
	}
	if s.cache != nil {
		if err := s.cache.InvalidateDoctors(ctx); err != nil {
			log.Warn("invalidate doctor cache", "err", err)
		}
	}
	log.Info("doctor created", "doctor_id", d.ID)
	return textResponse(http.StatusOK, msgDoctorCreated)
}

func (s *Server) handleCreatePatient(ctx context.Context, req *Request) Response {
	log := util.LoggerFromContext(ctx)
	var in createPatientReq
	if err := decodeBody(req.Body, &in); err != nil {
		log.Warn("decode patient payload", "err", err)
		return textResponse(http.StatusInternalServerError, msgParseError)
	}
	p := &store.Patient{Name: *in.Name, Gender: *in.Gender}
	if _, err := s.repo.CreatePatient(ctx, p); err != nil {
		log.Error("create patient", "err", err)
		return textResponse(http.StatusInternalServerError, "Error creating patient")
	}
	log.Info("patient created", "patient_id", p.ID)
	return textResponse(http.StatusOK, msgPatientCreated)
}

func (s *Server) handleCreatePrescription(ctx context.Context, req *Request) Response {
	log := util.LoggerFromContext(ctx)
	var in createPrescriptionReq
	if err := decodeBody(req.Body, &in); err != nil {
		log.Warn("decode prescription payload", "err", err)
		return textResponse(http.StatusInternalServerError, msgParseError)
	}
	p := &store.Prescription{
		PatientID: int64(*in.PatientID), Age: *in.Age,
		Symptoms: *in.Symptoms, Diagnosis: *in.Diagnosis,
		DoctorID: int64(*in.DoctorID), Advice: *in.Advice, Medicine: *in.Medicine,
	}
	if _, err := s.repo.CreatePrescription(ctx, p); err != nil {
		log.Error("create prescription", "err", err)
		return textResponse(http.StatusInternalServerError, "Error creating prescription")
	}
	log.Info("prescription created", "prescription_id", p.ID, "patient_id", p.PatientID)
	return textResponse(http.StatusOK, msgPrescriptionNew)
}

func (s *Server) handleListDoctors(ctx context.Context, _ *Request) Response {
	log := util.LoggerFromContext(ctx)
	var (
		gen      int64
		useCache = s.cache != nil
	)
	if useCache {
		body, g, ok, err := s.cache.GetDoctors(ctx)
		switch {
		case err != nil:
			log.Warn("read doctor cache", "err", err)
			useCache = false
		case ok:
			return Response{Status: http.StatusOK, Body: body}
		default:
			gen = g
		}
	}
	doctors, err := s.repo.ListDoctors(ctx)
	if err != nil {
		log.Error("list doctors", "err", err)
		return textResponse(http.StatusInternalServerError, msgGenericError)
	}
	if doctors == nil {
		doctors = []store.Doctor{}
	}
	resp := jsonResponse(http.StatusOK, doctors)
	if useCache && resp.Status == http.StatusOK {
		if err := s.cache.SetDoctors(ctx, gen, resp.Body); err != nil {
			log.Warn("write doctor cache", "err", err)
		}
	}
	return resp
}

func (s *Server) handlePatientPrescriptions(ctx context.Context, req *Request) Response {
	log := util.LoggerFromContext(ctx)
	raw := req.PathValue("patientId")
	patientID, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		log.Warn("invalid patient id", "value", raw)
		return textResponse(http.StatusBadRequest, msgInvalidPatient)
	}
	details, err := s.repo.ListPrescriptionDetails(ctx, patientID)
	if err != nil {
		log.Error("list prescriptions", "patient_id", patientID, "err", err)
		return textResponse(http.StatusInternalServerError, msgDatabaseError)
	}
	if details == nil {
		details = []store.PrescriptionDetail{}
	}
	return jsonResponse(http.StatusOK, details)
}

func (s *Server) handleHealthz(context.Context, *Request) Response {
	return jsonResponse(http.StatusOK, map[string]any{"status": "ok"})
}

// handleReadyz also checks store connectivity.
func (s *Server) handleReadyz(ctx context.Context, _ *Request) Response {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := map[string]any{"status": "ok", "db": "ok"}
	if err := s.repo.Ping(ctx); err != nil {
		util.LoggerFromContext(ctx).Warn("store ping failed", "err", err)
		status["db"] = "down"
		return jsonResponse(http.StatusServiceUnavailable, status)
	}
	return jsonResponse(http.StatusOK, status)
}
