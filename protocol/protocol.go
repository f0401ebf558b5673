// Package protocol frames the HTTP-shaped request/response exchange directly
// over a raw byte stream: a request line, a header block terminated by an
// empty line, and an optional body whose size comes from Content-Length.
// Parsing consumes exactly one message and leaves the reader positioned at
// the start of the next, so one connection can carry many requests.
package protocol

import (
	"bufio"
	"errors"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

var (
	ErrMalformedRequest = errors.New("malformed request")
	ErrTruncatedBody    = errors.New("truncated request body")
	ErrBodyTooLarge     = errors.New("request body too large")
)

const (
	maxLineLength = 8192
	maxHeaders    = 64
)

type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Header returns a header value by name, case-insensitively.
func (r *Request) Header(name string) string {
	return r.Headers[textproto.CanonicalMIMEHeaderKey(name)]
}

type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

var statusReasons = map[int]string{
	200: "OK",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	500: "Internal Server Error",
}

// ParseRequest reads one request off the stream. io.EOF is returned only
// when the peer closed cleanly before sending any byte of a request.
func ParseRequest(reader *bufio.Reader, maxBody int) (*Request, error) {
	line, err := readLine(reader)
	if err != nil {
		if err == io.EOF && line == "" {
			return nil, io.EOF
		}
		if err == io.EOF {
			return nil, ErrMalformedRequest
		}
		return nil, err
	}

	parts := strings.Fields(line)
	if len(parts) < 2 || len(parts) > 3 {
		return nil, ErrMalformedRequest
	}

	req := &Request{
		Method:  parts[0],
		Path:    parts[1],
		Headers: make(map[string]string),
	}

	for {
		line, err := readLine(reader)
		if err != nil {
			// The peer vanished inside the header block.
			return nil, ErrMalformedRequest
		}
		if line == "" {
			break
		}
		if len(req.Headers) >= maxHeaders {
			return nil, ErrMalformedRequest
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || key == "" {
			return nil, ErrMalformedRequest
		}
		req.Headers[textproto.CanonicalMIMEHeaderKey(key)] = strings.TrimSpace(value)
	}

	length := 0
	if lengthStr := req.Header("Content-Length"); lengthStr != "" {
		length, err = strconv.Atoi(lengthStr)
		if err != nil || length < 0 {
			return nil, ErrMalformedRequest
		}
	}
	if length > maxBody {
		return nil, ErrBodyTooLarge
	}

	if length > 0 {
		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			return nil, ErrTruncatedBody
		}
		req.Body = body
	}

	return req, nil
}

// WriteResponse serializes a response as a single write: status line,
// headers (always including Content-Length), empty line, body.
func WriteResponse(w io.Writer, resp *Response) error {
	reason, ok := statusReasons[resp.Status]
	if !ok {
		reason = "Internal Server Error"
	}

	var b strings.Builder
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(resp.Status))
	b.WriteString(" ")
	b.WriteString(reason)
	b.WriteString("\r\n")
	b.WriteString("Content-Type: application/json; charset=utf-8\r\n")
	for key, value := range resp.Headers {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(len(resp.Body)))
	b.WriteString("\r\n\r\n")
	b.Write(resp.Body)

	_, err := io.WriteString(w, b.String())
	return err
}

// ParseResponse reads one response off the stream. It is the mirror of
// WriteResponse and is what a polling client uses to consume replies.
func ParseResponse(reader *bufio.Reader) (*Response, error) {
	line, err := readLine(reader)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, ErrMalformedRequest
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, ErrMalformedRequest
	}

	resp := &Response{
		Status:  status,
		Headers: make(map[string]string),
	}

	for {
		line, err := readLine(reader)
		if err != nil {
			return nil, ErrMalformedRequest
		}
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, ErrMalformedRequest
		}
		resp.Headers[textproto.CanonicalMIMEHeaderKey(key)] = strings.TrimSpace(value)
	}

	length := 0
	if lengthStr := resp.Headers["Content-Length"]; lengthStr != "" {
		length, err = strconv.Atoi(lengthStr)
		if err != nil || length < 0 {
			return nil, ErrMalformedRequest
		}
	}

	if length > 0 {
		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			return nil, ErrTruncatedBody
		}
		resp.Body = body
	}

	return resp, nil
}

// readLine reads a CRLF- or LF-terminated line without the terminator.
func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return strings.TrimRight(line, "\r\n"), err
	}
	if len(line) > maxLineLength {
		return "", ErrMalformedRequest
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}
