package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const maxHeaderBytes = 8 << 10

var (
	ErrMalformedRequest = errors.New("malformed request")
	ErrHeaderTooLarge   = errors.New("request header too large")
	ErrBodyTooLarge     = errors.New("request body too large")
)

// Request is the subset of an HTTP/1.1 request the server understands.
type Request struct {
	Method string
	Target string // request target as sent, including any query
	Path   string // Target without the query
	Proto  string
	// Header names are lower-cased; a repeated header keeps the last value.
	Headers map[string]string
	Body    string

	params map[string]string
}

// PathValue returns the value of a {name} segment of the matched route.
func (r *Request) PathValue(name string) string {
	return r.params[name]
}

// ReadRequest reads one request: the request line, headers up to the blank
// line, then Content-Length body bytes. Without Content-Length the body is
// whatever was already received after the headers. Text is decoded lossily.
// It returns io.EOF when the peer closed without sending anything.
func ReadRequest(br *bufio.Reader, maxBody int64) (*Request, error) {
	budget := maxHeaderBytes
	line, err := readLine(br, &budget)
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return nil, err
	}
	sawEOF := err != nil

	method, target, proto, ok := parseRequestLine(line)
	if !ok {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformedRequest, line)
	}
	req := &Request{
		Method:  method,
		Target:  target,
		Proto:   proto,
		Headers: make(map[string]string),
	}
	req.Path, _, _ = strings.Cut(target, "?")

	for !sawEOF {
		line, err := readLine(br, &budget)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		sawEOF = err != nil
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformedRequest, line)
		}
		req.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	if _, chunked := req.Headers["transfer-encoding"]; chunked {
		return nil, fmt.Errorf("%w: transfer-encoding is not supported", ErrMalformedRequest)
	}
	if cl, ok := req.Headers["content-length"]; ok {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: content-length %q", ErrMalformedRequest, cl)
		}
		if n > maxBody {
			return nil, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, n, maxBody)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, fmt.Errorf("%w: short body: %v", ErrMalformedRequest, err)
		}
		req.Body = decodeText(body)
		return req, nil
	}

	n := br.Buffered()
	if int64(n) > maxBody {
		return nil, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, n, maxBody)
	}
	rest, _ := br.Peek(n)
	req.Body = decodeText(rest)
	return req, nil
}

// readLine reads up to '\n', charging the bytes against budget, and strips the
// line terminator. Both "\r\n" and "\n" end a line.
func readLine(br *bufio.Reader, budget *int) (string, error) {
	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		*budget -= len(chunk)
		if *budget < 0 {
			return "", ErrHeaderTooLarge
		}
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		line = bytes.TrimSuffix(line, []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))
		return decodeText(line), err
	}
}

func parseRequestLine(line string) (method, target, proto string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 {
		return "", "", "", false
	}
	method, target = fields[0], fields[1]
	if len(fields) == 3 {
		proto = fields[2]
	}
	if !strings.HasPrefix(target, "/") {
		return "", "", "", false
	}
	return method, target, proto, true
}

// decodeText interprets b as UTF-8, replacing invalid sequences with U+FFFD.
func decodeText(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

// PathSegment returns the n-th '/'-separated segment of path (0 is the part
// before the leading slash), cut at the first whitespace. Missing segments are "".
// PathSegment("/prescription-list/42", 2) == "42".
func PathSegment(path string, n int) string {
	parts := strings.Split(path, "/")
	if n < 0 || n >= len(parts) {
		return ""
	}
	fields := strings.Fields(parts[n])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
