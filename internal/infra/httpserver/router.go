package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appanalysis "github.com/sitejournal/compliance/internal/application/analysis"
	appdocs "github.com/sitejournal/compliance/internal/application/documents"
	domain "github.com/sitejournal/compliance/internal/domain/analysis"
	"github.com/sitejournal/compliance/internal/middleware"
)

// maxUploadBytes caps quality-document uploads at 32 MiB.
const maxUploadBytes = 32 << 20

type Router struct {
	analysisSvc *appanalysis.Service
	docsSvc     *appdocs.Service
}

// Deps carries the collaborators the router observes for /health and /metrics.
type Deps struct {
	DB         *sql.DB
	QueueDepth func() int
	InFlight   func() int
}

func NewRouter(analysisSvc *appanalysis.Service, docsSvc *appdocs.Service, deps Deps) http.Handler {
	r := &Router{analysisSvc: analysisSvc, docsSvc: docsSvc}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	mux.Use(middleware.CountRequests)

	mux.Get("/health", middleware.HealthHandler(deps.DB))
	mux.Get("/metrics", middleware.MetricsHandler(deps.QueueDepth, deps.InFlight))

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/entities/{kind}/{id}/documents", r.wrap(r.handleUploadDocument))
		rt.Get("/entities/{kind}/{id}/documents", r.wrap(r.handleListDocuments))
		rt.Post("/entities/{kind}/{id}/analyze", r.wrap(r.handleAnalyze))
		rt.Get("/entities/{kind}/{id}/analyses/latest", r.wrap(r.handleLatestAnalysis))
		rt.Get("/analyses", r.wrap(r.handleListAnalyses))
		rt.Get("/analyses/{id}", r.wrap(r.handleGetAnalysis))
		rt.Get("/analyses/{id}/errors", r.wrap(r.handleAnalysisErrors))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound), errors.Is(err, sql.ErrNoRows):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, domain.ErrNoDocuments),
				errors.Is(err, domain.ErrInvalidEntityRef),
				errors.Is(err, domain.ErrUnsupportedEntityKind),
				errors.Is(err, domain.ErrEmptyDocument),
				errors.Is(err, appdocs.ErrInvalidFileType):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, domain.ErrBackpressure):
				w.Header().Set("Retry-After", "30")
				http.Error(w, "analysis queue is full, try again later", http.StatusServiceUnavailable)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

func entityRefFromPath(req *http.Request) (domain.EntityRef, error) {
	kind := chi.URLParam(req, "kind")
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		return domain.EntityRef{}, domain.ErrInvalidEntityRef
	}
	return domain.NewEntityRef(kind, id)
}

// POST /v1/entities/{kind}/{id}/documents
// Multipart upload; stores the file and fires analysis in the background.
func (r *Router) handleUploadDocument(w http.ResponseWriter, req *http.Request) error {
	ref, err := entityRefFromPath(req)
	if err != nil {
		return err
	}

	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	file, header, err := req.FormFile("file")
	if err != nil {
		return domain.ErrEmptyDocument
	}
	defer file.Close()

	res, err := r.docsSvc.Upload(req.Context(), ref, header.Filename,
		header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		return err
	}

	if res.AnalysisID != "" {
		middleware.IncrementAnalysesQueued()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	return json.NewEncoder(w).Encode(res)
}

// GET /v1/entities/{kind}/{id}/documents?limit=20
func (r *Router) handleListDocuments(w http.ResponseWriter, req *http.Request) error {
	ref, err := entityRefFromPath(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.docsSvc.ListByEntity(req.Context(), ref, limit)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// POST /v1/entities/{kind}/{id}/analyze
// Wait-mode analysis over the latest stored document. Responds 200 with the
// terminal record, or 202 with the id when the wait timeout elapsed first.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	ref, err := entityRefFromPath(req)
	if err != nil {
		return err
	}

	id, rec, err := r.analysisSvc.RequestAnalysis(req.Context(), ref)
	if errors.Is(err, domain.ErrStillPending) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		return json.NewEncoder(w).Encode(map[string]any{
			"analysis_id": id,
			"status":      domain.StatusPending,
		})
	}
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(rec)
}

// GET /v1/entities/{kind}/{id}/analyses/latest
func (r *Router) handleLatestAnalysis(w http.ResponseWriter, req *http.Request) error {
	ref, err := entityRefFromPath(req)
	if err != nil {
		return err
	}
	rec, err := r.analysisSvc.LatestForEntity(req.Context(), ref)
	if err != nil {
		return err
	}
	if rec == nil {
		return domain.ErrNotFound
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(rec)
}

// GET /v1/analyses?page=&page_size=
func (r *Router) handleListAnalyses(w http.ResponseWriter, req *http.Request) error {
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))

	list, err := r.analysisSvc.List(req.Context(), page, size)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// GET /v1/analyses/{id}
func (r *Router) handleGetAnalysis(w http.ResponseWriter, req *http.Request) error {
	rec, err := r.analysisSvc.GetResult(req.Context(), domain.AnalysisID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(rec)
}

// GET /v1/analyses/{id}/errors?limit=20
func (r *Router) handleAnalysisErrors(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.analysisSvc.ErrorsFor(req.Context(), domain.AnalysisID(chi.URLParam(req, "id")), limit)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}
