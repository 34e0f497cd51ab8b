package store

// Domain models. The id fields are assigned by the store and ignored on input.

// Doctor.Experience is free text. The column and wire key keep the deployed
// spelling "experiance".
type Doctor struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	Experience     string `json:"experiance"`
}

type Patient struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Gender string `json:"gender"`
}

type Prescription struct {
	ID        int64  `json:"id"`
	PatientID int64  `json:"patient_id"`
	Age       int32  `json:"age"`
	Symptoms  string `json:"symptoms"`
	Diagnosis string `json:"diagnosis"`
	DoctorID  int64  `json:"doctor_id"`
	Advice    string `json:"advice"`
	Medicine  string `json:"medicine"`
}

// PrescriptionDetail is a prescription joined with its doctor's row. Never persisted.
type PrescriptionDetail struct {
	PrescriptionID       int64  `json:"prescription_id"`
	PatientID            int64  `json:"patient_id"`
	Age                  int32  `json:"age"`
	Symptoms             string `json:"symptoms"`
	Diagnosis            string `json:"diagnosis"`
	DoctorID             int64  `json:"doctor_id"`
	Advice               string `json:"advice"`
	Medicine             string `json:"medicine"`
	DoctorName           string `json:"doctor_name"`
	DoctorSpecialization string `json:"doctor_specialization"`
}
