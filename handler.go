package alwaysorigin

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/always-cache/always-origin/cache"
	"github.com/always-cache/always-origin/resource"
	"github.com/always-cache/always-origin/rfc9110"
	"github.com/always-cache/always-origin/rfc9111"
	"github.com/always-cache/always-origin/rfc9211"
)

const (
	AdminPrefix = "/_admin/"

	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

// handle runs the request checks in order (405, 505, admin) and then the
// conditional GET against the cache.
func (s *Server) handle(ctx context.Context, req *http.Request, logger zerolog.Logger) *Response {
	if req.Method != http.MethodGet {
		res := errorResponse(newStatusError(http.StatusMethodNotAllowed, nil))
		res.Header.Set("Allow", http.MethodGet)
		return res
	}
	if req.ProtoMajor != 1 || req.ProtoMinor > 1 {
		return errorResponse(newStatusError(http.StatusHTTPVersionNotSupported, nil))
	}
	if req.URL.Path == strings.TrimSuffix(AdminPrefix, "/") || strings.HasPrefix(req.URL.Path, AdminPrefix) {
		return s.serveAdmin(req)
	}
	if resource.IsTraversal(req.URL.Path) {
		return errorResponse(statusErrorFor(resource.ErrForbidden))
	}
	return s.serveResource(ctx, req, logger)
}

func (s *Server) serveResource(ctx context.Context, req *http.Request, logger zerolog.Logger) *Response {
	key := cache.KeyFromRequest(req)
	validators := rfc9110.Validators{
		IfNoneMatch:     req.Header.Get("If-None-Match"),
		IfModifiedSince: req.Header.Get("If-Modified-Since"),
	}

	if rec := s.cache.FindRecord(key); rec != nil {
		logger.Trace().Str("key", key.String()).Msg("Cache hit")
		cs := rfc9211.CacheStatus{Cache: s.cfg.ServerName}
		cs.Hit()
		res, _ := s.recordResponse(req, rec, validators, cs)
		return res
	}
	logger.Trace().Str("key", key.String()).Msg("Cache miss")

	src, err := s.root.Resolve(key.URL)
	if err != nil {
		return errorResponse(statusErrorFor(err))
	}
	if d := s.MissDelay(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errorResponse(statusErrorFor(ctx.Err()))
		}
	}
	rec, err := cache.NewRecord(ctx, key, src, s.TTL())
	if err != nil {
		logger.Debug().Err(err).Msg("Could not fetch resource")
		return errorResponse(statusErrorFor(err))
	}

	cs := rfc9211.CacheStatus{Cache: s.cfg.ServerName}
	cs.Forward(rfc9211.FwdReasonMiss)
	cs.Stored = true
	// built before the insert so a concurrent promotion cannot touch it
	res, store := s.recordResponse(req, rec, validators, cs)
	if store {
		s.cache.InsertResponse(rec)
	} else {
		logger.Trace().Str("key", key.String()).Msg("Not stored, no-store")
	}
	return res
}

// recordResponse answers with 304 or 200 from rec. store is false when the
// final Cache-Control forbids keeping rec.
func (s *Server) recordResponse(req *http.Request, rec *cache.Record, v rfc9110.Validators, cs rfc9211.CacheStatus) (res *Response, store bool) {
	now := time.Now()
	outcome := rfc9110.Evaluate(v, rfc9110.Representation{
		ETag:         rec.ETag(),
		LastModified: rec.LastModified(),
	}, now)

	res = newResponse(http.StatusOK)
	if outcome == rfc9110.OutcomeNotModified {
		res.StatusCode = http.StatusNotModified
		cs.Detail = "not-modified"
	} else {
		res.Body = rec.Content()
	}
	res.Header.Set("Content-Type", rec.ContentType())
	res.Header.Set("ETag", rfc9110.QuoteETag(rec.ETag()))
	res.Header.Set("Last-Modified", rec.LastModifiedHeader())
	res.Header.Set("Vary", rec.VaryHeader())
	s.rules.Apply(req, res.StatusCode, res.Header)
	if res.Header.Get("Cache-Control") == "" {
		res.Header.Set("Cache-Control", rfc9111.FormatMaxAge(rec.TTL()))
	}
	if cs.IsHit() {
		res.Header.Set("Age", rfc9111.Age(rec.Stored(), now))
	}
	store = !rfc9111.ParseCacheControl(res.Header.Values("Cache-Control")).NoStore()
	if !store {
		cs.Stored = false
	}
	if ttl := rec.Expires().Sub(now); ttl > 0 {
		cs.TimeToLive = int(ttl / time.Second)
	}
	res.Header.Set("Cache-Status", cs.String())
	if cs.IsHit() {
		res.Cache = CacheHit
	} else {
		res.Cache = CacheMiss
	}
	return res, store
}
