package alwaysorigin

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Response is a fully built response, ready to be written to a connection.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Close ends the connection after the response is written.
	Close bool
	// Cache is the X-Cache value, empty for responses not about a resource.
	Cache string
}

func newResponse(code int) *Response {
	return &Response{StatusCode: code, Header: make(http.Header)}
}

func errorResponse(e *StatusError) *Response {
	res := newResponse(e.Code)
	res.Header.Set("Content-Type", "text/plain; charset=utf-8")
	res.Body = []byte(e.body())
	res.Close = true
	return res
}

// Write renders the response in HTTP/1.1 wire format.
// Content-Length is always set from the body, which is empty for 304.
func (r *Response) Write(w io.Writer) error {
	if r.StatusCode == http.StatusNotModified {
		r.Body = nil
	}
	r.Header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	if r.Close {
		r.Header.Set("Connection", "close")
	} else {
		r.Header.Set("Connection", "keep-alive")
	}
	bw := bufio.NewWriterSize(w, 4096)
	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", r.StatusCode, http.StatusText(r.StatusCode)); err != nil {
		return err
	}
	if err := r.Header.Write(bw); err != nil {
		return err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	if _, err := bw.Write(r.Body); err != nil {
		return err
	}
	return bw.Flush()
}

// Bytes returns the wire representation.
func (r *Response) Bytes() []byte {
	var buf bytes.Buffer
	r.Write(&buf)
	return buf.Bytes()
}
