package alwaysorigin

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"testing"
)

func readResponse(t *testing.T, b []byte) (*http.Response, string) {
	t.Helper()
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	return res, string(body)
}

func TestResponseBodyIntact(t *testing.T) {
	r := newResponse(http.StatusOK)
	r.Header.Set("Content-Type", "text/plain")
	r.Body = []byte("This is the body")

	res, body := readResponse(t, r.Bytes())
	if body != "This is the body" {
		t.Fatalf("Body: %s", body)
	}
	if res.ContentLength != 16 {
		t.Fatalf("Content-Length: %d", res.ContentLength)
	}
	if res.Header.Get("Connection") != "keep-alive" {
		t.Fatalf("Connection: %s", res.Header.Get("Connection"))
	}
}

func TestNotModifiedHasNoBody(t *testing.T) {
	r := newResponse(http.StatusNotModified)
	r.Body = []byte("ignored")
	wire := r.Bytes()

	if !bytes.Contains(wire, []byte("Content-Length: 0\r\n")) {
		t.Fatalf("Missing zero Content-Length:\n%s", wire)
	}
	if !bytes.HasSuffix(wire, []byte("\r\n\r\n")) {
		t.Fatalf("304 carries a body:\n%s", wire)
	}
}

func TestErrorResponseCloses(t *testing.T) {
	r := errorResponse(&StatusError{Code: http.StatusForbidden, Message: "403 Forbidden: Access Denied\n"})
	res, body := readResponse(t, r.Bytes())
	if res.StatusCode != http.StatusForbidden || !res.Close {
		t.Fatalf("Status %d close %v", res.StatusCode, res.Close)
	}
	if body != "403 Forbidden: Access Denied\n" {
		t.Fatalf("Body: %q", body)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("Content-Type: %s", ct)
	}
}

func TestDefaultErrorBody(t *testing.T) {
	r := errorResponse(newStatusError(http.StatusHTTPVersionNotSupported, nil))
	_, body := readResponse(t, r.Bytes())
	if body != "505 HTTP Version Not Supported\n" {
		t.Fatalf("Body: %q", body)
	}
}
