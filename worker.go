package alwaysorigin

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/always-origin/dispatcher"
	"github.com/always-cache/always-origin/journal"
	"github.com/always-cache/always-origin/rfc9110"
)

const (
	// closeDrainTimeout bounds the drain after a half-close.
	closeDrainTimeout = 200 * time.Millisecond
	// maxRequestBody is how much of an unexpected request body is discarded
	// before the connection is closed instead.
	maxRequestBody = 64 * 1024
	// headerSlack is added to MaxHeaderBytes for the bufio look-ahead.
	headerSlack = 4096
)

// ServeConn runs read, process and write cycles on conn until a response
// closes it, the peer goes away or a transport fault happens.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()
	logger := log.With().Str("conn", connID[:8]).Str("remote", conn.RemoteAddr().String()).Logger()
	st := s.trackConn(conn, true)
	defer s.trackConn(conn, false)
	logger.Trace().Msg("Serving connection")

	// the limit covers the request head only and is lifted for the body
	lr := &io.LimitedReader{R: conn}
	br := bufio.NewReader(lr)
	for {
		lr.N = int64(s.cfg.MaxHeaderBytes) + headerSlack
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		st.idle.Store(true)
		if s.shuttingDown.Load() {
			conn.Close()
			return
		}
		req, err := http.ReadRequest(br)
		st.idle.Store(false)
		start := time.Now()

		var res *Response
		switch {
		case err != nil && lr.N <= 0:
			logger.Debug().Int("limit", s.cfg.MaxHeaderBytes).Msg("Request head too large")
			res = errorResponse(newStatusError(http.StatusRequestHeaderFieldsTooLarge, err))
			req = nil
		case err != nil && isTransportError(err):
			logger.Debug().Err(err).Msg("Connection ended")
			conn.Close()
			return
		case err != nil:
			logger.Debug().Err(err).Msg("Malformed request")
			res = errorResponse(newStatusError(http.StatusBadRequest, err))
			req = nil
		default:
			lr.N = math.MaxInt64
			res = s.respond(ctx, req.WithContext(ctx), logger)
			if !drainBody(req) {
				res.Close = true
			}
			if req.Close || s.shuttingDown.Load() {
				res.Close = true
			}
		}
		s.finalize(res)

		s.record(logger, connID, req, res, time.Since(start))

		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := res.Write(conn); err != nil {
			logger.Debug().Err(err).Msg("Could not write response")
			conn.Close()
			return
		}
		if res.Close {
			logger.Trace().Msg("Response asked to close connection")
			dispatcher.CloseGracefully(conn, closeDrainTimeout)
			return
		}
	}
}

// respond builds the response to a parsed request. Panics become a 500.
func (s *Server) respond(ctx context.Context, req *http.Request, logger zerolog.Logger) (res *Response) {
	defer func() {
		if err := recover(); err != nil {
			logger.Error().Msgf("Request handling panicked: %v", err)
			res = errorResponse(newStatusError(http.StatusInternalServerError, nil))
		}
	}()
	return s.handle(ctx, req, logger)
}

// finalize adds the headers every response carries.
func (s *Server) finalize(res *Response) {
	res.Header.Set("Date", rfc9110.ToHttpDate(time.Now()))
	res.Header.Set("Server", s.cfg.ServerName)
	if res.Cache != "" {
		res.Header.Set("X-Cache", res.Cache)
	}
}

func (s *Server) record(logger zerolog.Logger, connID string, req *http.Request, res *Response, took time.Duration) {
	method, path := "", ""
	if req != nil {
		method, path = req.Method, req.URL.Path
	}
	s.metrics.ObserveRequest(res.StatusCode, res.Cache, took)
	s.journal.Record(journal.Entry{
		Time:     time.Now(),
		ConnID:   connID,
		Method:   method,
		Path:     path,
		Status:   res.StatusCode,
		Cache:    res.Cache,
		Bytes:    len(res.Body),
		Duration: took,
	})
	logger.Debug().
		Str("method", method).
		Str("url", path).
		Int("status", res.StatusCode).
		Str("cache", res.Cache).
		Str("size", humanize.Bytes(uint64(len(res.Body)))).
		Dur("took", took).
		Bool("close", res.Close).
		Msg("Sending response to client")
}

// drainBody discards a request body so the next request can be read.
// It reports false if the body was too large or could not be read.
func drainBody(req *http.Request) bool {
	if req.Body == nil || req.Body == http.NoBody {
		return true
	}
	n, err := io.Copy(io.Discard, io.LimitReader(req.Body, maxRequestBody+1))
	req.Body.Close()
	return err == nil && n <= maxRequestBody
}

// isTransportError tells a failed read apart from a request that could not be parsed.
func isTransportError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
