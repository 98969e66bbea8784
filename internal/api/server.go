package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pharmacy-finder/internal/config"
	"pharmacy-finder/internal/content"
	"pharmacy-finder/internal/hours"
	"pharmacy-finder/internal/ingest"
	"pharmacy-finder/internal/models"
	"pharmacy-finder/internal/queue"
	"pharmacy-finder/internal/ratelimit"
	"pharmacy-finder/internal/store"
	"pharmacy-finder/internal/telemetry"
)

// Server wires the public read endpoints and the admin surface.
type Server struct {
	cfg     config.Config
	store   *store.Store
	queue   *queue.RedisQueue
	limiter *ratelimit.TokenBucket
	loader  *ingest.Loader
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs the API server. loader may be nil when ingest is not configured.
func New(cfg config.Config, st *store.Store, q *queue.RedisQueue, limiter *ratelimit.TokenBucket, loader *ingest.Loader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   st,
		queue:   q,
		limiter: limiter,
		loader:  loader,
		logger:  logger.With("component", "api"),
		now:     time.Now,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/pharmacies", s.handleSearch)
	r.Get("/pharmacies/{hpid}", s.handleGetPharmacy)
	r.Get("/content/{slug}", s.handleGetContent)

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(s.requireAdmin)
		ar.Post("/generate", s.handleGenerate)
		ar.Post("/blog", s.handleBlog)
		ar.Post("/content/{slug}/regenerate", s.handleRegenerate)
		ar.Post("/content/{slug}/publish", s.handlePublishNow)
		ar.Delete("/content/{slug}", s.handleDeleteContent)
		ar.Post("/ingest", s.handleIngest)
	})

	return r
}

// pharmacyView is a pharmacy plus its operating status at request time.
type pharmacyView struct {
	models.Pharmacy
	Status models.OperatingStatus `json:"status"`
}

func (s *Server) view(ph models.Pharmacy) pharmacyView {
	return pharmacyView{
		Pharmacy: ph,
		Status:   hours.Resolve(ph.Hours, s.now(), s.cfg.Location()),
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PharmacyFilter{
		Sido:  q.Get("sido"),
		Gugun: q.Get("gugun"),
		Query: q.Get("q"),
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = v
	}

	pharmacies, err := s.store.SearchPharmacies(r.Context(), filter)
	if err != nil {
		s.logger.Error("pharmacy search failed", "error", err)
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}

	telemetry.StatusQueries.Inc()
	views := make([]pharmacyView, 0, len(pharmacies))
	for _, ph := range pharmacies {
		views = append(views, s.view(ph))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views, "count": len(views)})
}

func (s *Server) handleGetPharmacy(w http.ResponseWriter, r *http.Request) {
	hpid := chi.URLParam(r, "hpid")
	ph, err := s.store.GetPharmacy(r.Context(), hpid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "pharmacy not found", http.StatusNotFound)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	telemetry.StatusQueries.Inc()
	writeJSON(w, http.StatusOK, s.view(ph))
}

// handleGetContent serves published content only; pending, review, and
// failed items are indistinguishable from missing ones.
func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	item, err := s.store.GetContent(r.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "content not found", http.StatusNotFound)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if item.Status != models.StatusPublished {
		http.Error(w, "content not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type generateRequest struct {
	HPID  string `json:"hpid"`
	Limit int    `json:"limit"`
}

type blogRequest struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
	Topic string `json:"topic"`
}

// handleGenerate enqueues generation jobs: one for a specific pharmacy
// when hpid is given, otherwise a batch of candidates missing complete
// content.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if req.HPID != "" {
		if _, err := s.store.GetPharmacy(r.Context(), req.HPID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "pharmacy not found", http.StatusNotFound)
				return
			}
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		if err := s.enqueuePharmacy(r, req.HPID); err != nil {
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"enqueued": 1})
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.GenerateBatchSize
	}
	candidates, err := s.store.GenerationCandidates(r.Context(), limit)
	if err != nil {
		s.logger.Error("candidate query failed", "error", err)
		http.Error(w, "candidate query failed", http.StatusInternalServerError)
		return
	}
	enqueued := 0
	for _, ph := range candidates {
		if err := s.enqueuePharmacy(r, ph.HPID); err != nil {
			s.logger.Error("enqueue failed", "hpid", ph.HPID, "error", err)
			continue
		}
		enqueued++
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"enqueued": enqueued})
}

func (s *Server) enqueuePharmacy(r *http.Request, hpid string) error {
	return s.queue.Enqueue(r.Context(), models.GenerationJob{
		ID:    uuid.NewString(),
		Kind:  models.JobKindPharmacy,
		HPID:  hpid,
		Slug:  content.PharmacySlug(hpid),
		RunAt: s.now(),
	})
}

func (s *Server) handleBlog(w http.ResponseWriter, r *http.Request) {
	var req blogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Slug == "" || req.Title == "" {
		http.Error(w, "slug and title are required", http.StatusBadRequest)
		return
	}
	err := s.queue.Enqueue(r.Context(), models.GenerationJob{
		ID:    uuid.NewString(),
		Kind:  models.JobKindBlog,
		Slug:  req.Slug,
		Title: req.Title,
		Topic: req.Topic,
		RunAt: s.now(),
	})
	if err != nil {
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"enqueued": 1, "slug": req.Slug})
}

// handleRegenerate re-enqueues generation for an existing item. Pharmacy
// items regenerate from their pharmacy record; blog items reuse the stored
// title.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	item, err := s.store.GetContent(r.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "content not found", http.StatusNotFound)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	job := models.GenerationJob{
		ID:    uuid.NewString(),
		Slug:  item.Slug,
		RunAt: s.now(),
	}
	if item.HPID != nil && *item.HPID != "" {
		job.Kind = models.JobKindPharmacy
		job.HPID = *item.HPID
	} else {
		job.Kind = models.JobKindBlog
		job.Title = item.Title
	}
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"enqueued": 1, "slug": item.Slug, "kind": job.Kind})
}

// handlePublishNow publishes an item immediately, bypassing its scheduled
// publish_at. The completeness gate still fails the item if the AI fields
// never arrived; publish-now does not forge them.
func (s *Server) handlePublishNow(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	item, err := s.store.GetContent(r.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "content not found", http.StatusNotFound)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if item.Status == models.StatusPublished {
		writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusPublished})
		return
	}
	if err := s.store.MarkPublished(r.Context(), slug, s.now()); err != nil {
		http.Error(w, "publish failed", http.StatusInternalServerError)
		return
	}
	telemetry.PublishedItems.Inc()
	s.logger.Info("published via admin", "slug", slug)
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusPublished})
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := s.store.DeleteContent(r.Context(), slug); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "content not found", http.StatusNotFound)
			return
		}
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info("content deleted", "slug", slug)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.loader == nil {
		http.Error(w, "ingest not configured", http.StatusServiceUnavailable)
		return
	}
	n, err := s.loader.Run(r.Context())
	if err != nil {
		s.logger.Error("ingest failed", "error", err)
		http.Error(w, "ingest failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": n})
}

// requireAdmin authenticates admin requests with a bearer token and rate
// limits them per client address.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			http.Error(w, "admin surface disabled", http.StatusForbidden)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if s.limiter != nil {
			key := fmt.Sprintf("rl:admin:%s", clientAddr(r))
			allowed, _, err := s.limiter.Allow(r.Context(), key)
			if err != nil {
				http.Error(w, "rate limit error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		if i := strings.IndexByte(v, ','); i >= 0 {
			return strings.TrimSpace(v[:i])
		}
		return strings.TrimSpace(v)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
