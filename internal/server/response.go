package server

import (
	"encoding/json"
	"io"
	"net/http"
)

// Status lines are fixed; only the JSON-bearing ones declare a content type.
var statusLines = map[int]string{
	http.StatusOK:                  "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n",
	http.StatusBadRequest:          "HTTP/1.1 400 BAD REQUEST\r\n\r\n",
	http.StatusNotFound:            "HTTP/1.1 404 NOT FOUND\r\n\r\n",
	http.StatusInternalServerError: "HTTP/1.1 500 INTERNAL SERVER ERROR\r\n\r\n",
	http.StatusServiceUnavailable:  "HTTP/1.1 503 SERVICE UNAVAILABLE\r\nContent-Type: application/json\r\n\r\n",
}

// Response bodies.
const (
	msgNotFound        = "404 Not Found"
	msgBadRequest      = "Bad Request"
	msgParseError      = "Error parsing request"
	msgInvalidPatient  = "Invalid patient ID"
	msgDatabaseError   = "Error connecting to the database"
	msgGenericError    = "Error"
	msgDoctorCreated   = "Doctor created"
	msgPatientCreated  = "patient created"
	msgPrescriptionNew = "prescription created"
)

// Response is a status code plus the raw body written after the status line.
type Response struct {
	Status int
	Body   []byte
}

func textResponse(status int, msg string) Response {
	return Response{Status: status, Body: []byte(msg)}
}

func jsonResponse(status int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		return textResponse(http.StatusInternalServerError, msgGenericError)
	}
	return Response{Status: status, Body: body}
}

// WireStatus is the status code actually written for r. Codes without a fixed
// status line are written as internal errors.
func (r Response) WireStatus() int {
	if _, ok := statusLines[r.Status]; ok {
		return r.Status
	}
	return http.StatusInternalServerError
}

// StatusLine returns the fixed status line (with the header block terminator)
// for r.WireStatus.
func (r Response) StatusLine() string {
	return statusLines[r.WireStatus()]
}

// WriteTo writes the status line and body in a single write.
func (r Response) WriteTo(w io.Writer) (int64, error) {
	line := r.StatusLine()
	buf := make([]byte, 0, len(line)+len(r.Body))
	buf = append(buf, line...)
	buf = append(buf, r.Body...)
	n, err := w.Write(buf)
	return int64(n), err
}
