package alwaysorigin

import (
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/always-origin/dispatcher"
	"github.com/always-cache/always-origin/journal"
	cacheupdate "github.com/always-cache/always-origin/pkg/cache-update"
	tee "github.com/always-cache/always-origin/pkg/response-writer-tee"
)

// serveAdmin runs the admin router inside the worker and records its response.
func (s *Server) serveAdmin(req *http.Request) *Response {
	rs := tee.NewResponseSaver(nil)
	s.admin.ServeHTTP(rs, req)
	res := newResponse(rs.StatusCode())
	for name, values := range rs.Header() {
		res.Header[name] = values
	}
	res.Header.Set("Cache-Control", "no-store")
	res.Body = rs.Body()
	res.Close = res.StatusCode >= http.StatusBadRequest
	return res
}

func (s *Server) adminRouter() chi.Router {
	r := chi.NewRouter()
	r.Route("/_admin", func(r chi.Router) {
		r.Get("/cache", s.adminListCache)
		r.Get("/cache/clear", s.adminClearCache)
		r.Get("/cache/evict-expired", s.adminEvictExpired)
		r.Get("/cache/purge", s.adminPurge)
		r.Get("/delay", s.adminDelay)
		r.Get("/ttl", s.adminTTL)
		r.Get("/stats", s.adminStats)
		r.Get("/journal", s.adminJournal)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown admin route"})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Could not encode admin response")
	}
}

func (s *Server) adminClearCache(w http.ResponseWriter, r *http.Request) {
	n := s.cache.ClearCache()
	log.Info().Int("cleared", n).Msg("Cache cleared")
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) adminEvictExpired(w http.ResponseWriter, r *http.Request) {
	n := s.cache.EvictExpired()
	log.Info().Int("evicted", n).Msg("Expired records evicted")
	writeJSON(w, http.StatusOK, map[string]int{"evicted": n, "remaining": s.cache.Len()})
}

// adminPurge removes the paths named by Cache-Update headers and path query
// parameters. Entries with a delay are purged later.
func (s *Server) adminPurge(w http.ResponseWriter, r *http.Request) {
	values := r.Header.Values(cacheupdate.HeaderName)
	values = append(values, r.URL.Query()["path"]...)
	updates := cacheupdate.Parse(&url.URL{Path: "/"}, values)
	if len(updates) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "nothing to purge"})
		return
	}
	purged, scheduled := 0, 0
	for _, u := range updates {
		if u.Delay == 0 {
			purged += s.cache.Purge(u.Path)
			continue
		}
		scheduled++
		path := u.Path
		time.AfterFunc(u.Delay, func() {
			if s.ctx.Err() != nil {
				return
			}
			n := s.cache.Purge(path)
			log.Debug().Str("path", path).Int("purged", n).Msg("Delayed purge done")
		})
	}
	log.Info().Int("purged", purged).Int("scheduled", scheduled).Msg("Cache purged")
	writeJSON(w, http.StatusOK, map[string]int{"purged": purged, "scheduled": scheduled})
}

// secondsParam parses the seconds query parameter and clamps it to [0, max].
// ok is false if the parameter is present but not a number.
func secondsParam(r *http.Request, max time.Duration) (d time.Duration, present bool, ok bool) {
	raw := r.URL.Query().Get("seconds")
	if raw == "" {
		return 0, false, true
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(secs) {
		return 0, true, false
	}
	secs = math.Max(0, math.Min(secs, max.Seconds()))
	return time.Duration(secs * float64(time.Second)), true, true
}

func (s *Server) adminDelay(w http.ResponseWriter, r *http.Request) {
	d, present, ok := secondsParam(r, MaxMissDelay)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "seconds must be a number"})
		return
	}
	if present {
		d = s.SetMissDelay(d)
		log.Info().Dur("delay", d).Msg("Miss delay set")
	} else {
		d = s.MissDelay()
	}
	writeJSON(w, http.StatusOK, map[string]float64{"delay_seconds": d.Seconds()})
}

func (s *Server) adminTTL(w http.ResponseWriter, r *http.Request) {
	d, present, ok := secondsParam(r, MaxTTL)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "seconds must be a number"})
		return
	}
	if present {
		d = s.SetTTL(d)
		log.Info().Dur("ttl", d).Msg("TTL set")
	} else {
		d = s.TTL()
	}
	writeJSON(w, http.StatusOK, map[string]float64{"ttl_seconds": d.Seconds()})
}

type adminRecord struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Vary      string    `json:"vary"`
	ETag      string    `json:"etag"`
	Expires   time.Time `json:"expires"`
	Expired   bool      `json:"expired"`
	Size      int       `json:"size"`
	SizeHuman string    `json:"size_human"`
}

func (s *Server) adminListCache(w http.ResponseWriter, r *http.Request) {
	records := s.cache.Records()
	out := make([]adminRecord, 0, len(records))
	for _, rec := range records {
		key := rec.Key()
		out = append(out, adminRecord{
			Key:       key.String(),
			URL:       key.URL,
			Vary:      key.VaryValues().Get(rec.VaryHeader()),
			ETag:      rec.ETag(),
			Expires:   rec.Expires(),
			Expired:   s.cache.IsExpired(rec),
			Size:      len(rec.Content()),
			SizeHuman: humanize.Bytes(uint64(len(rec.Content()))),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"capacity": s.cache.Capacity(),
		"policy":   s.cache.Policy().String(),
		"records":  out,
	})
}

type adminStats struct {
	Dispatcher   dispatcher.Stats `json:"dispatcher"`
	CacheLen     int              `json:"cache_records"`
	CacheCap     int              `json:"cache_capacity"`
	TTLSeconds   float64          `json:"ttl_seconds"`
	DelaySeconds float64          `json:"delay_seconds"`
	Journal      journal.Summary  `json:"journal"`
}

func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.journal.Summary(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Could not summarize journal")
	}
	writeJSON(w, http.StatusOK, adminStats{
		Dispatcher:   s.dispatcher.Stats(),
		CacheLen:     s.cache.Len(),
		CacheCap:     s.cache.Capacity(),
		TTLSeconds:   s.TTL().Seconds(),
		DelaySeconds: s.MissDelay().Seconds(),
		Journal:      summary,
	})
}

func (s *Server) adminJournal(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, 1000)
	}
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
