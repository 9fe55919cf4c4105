package dispatcher

import (
	"io"
	"net"
	"strconv"
	"time"

	"github.com/always-cache/always-origin/rfc9110"
)

// maxDrainBytes bounds how much inbound data is discarded before closing.
const maxDrainBytes = 64 * 1024

// HalfClose stops sending on conn while still allowing the peer to finish.
// Connections without CloseWrite are left untouched.
func HalfClose(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
}

// Drain discards inbound bytes until the peer closes, the timeout passes or the limit is hit.
func Drain(conn net.Conn, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(conn, maxDrainBytes))
}

// CloseGracefully half-closes, drains and closes conn.
func CloseGracefully(conn net.Conn, drain time.Duration) {
	HalfClose(conn)
	Drain(conn, drain)
	conn.Close()
}

// ServiceUnavailable writes the overload response.
func ServiceUnavailable(w io.Writer) error {
	const body = "503 Service Unavailable: server busy, try again\n"
	_, err := io.WriteString(w, "HTTP/1.1 503 Service Unavailable\r\n"+
		"Date: "+rfc9110.ToHttpDate(time.Now())+"\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"Content-Length: "+strconv.Itoa(len(body))+"\r\n"+
		"Retry-After: 1\r\n"+
		"Connection: close\r\n"+
		"\r\n"+
		body)
	return err
}
