package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/routers"

	"github.com/kirillkom/expert-match/internal/config"
	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/core/ports"
	"github.com/kirillkom/expert-match/internal/observability/metrics"
)

const (
	serviceName        = "api"
	maxJSONBodyBytes   = 1 << 20
	maxMultipartMemory = 32 << 20
)

type Router struct {
	cfg       config.Config
	query     ports.ExpertQueryService
	retriever ports.ExpertRetriever
	ingest    ports.ExpertIngestor
	experts   ports.ExpertReader
	metrics   *metrics.HTTPServerMetrics
	contract  routers.Router
}

type Option func(*Router)

// WithMetrics enables the /metrics endpoint and request metrics middleware.
func WithMetrics(m *metrics.HTTPServerMetrics) Option {
	return func(rt *Router) {
		rt.metrics = m
	}
}

func NewRouter(
	cfg config.Config,
	query ports.ExpertQueryService,
	retriever ports.ExpertRetriever,
	ingest ports.ExpertIngestor,
	experts ports.ExpertReader,
	opts ...Option,
) (*Router, error) {
	contract, err := newContractRouter()
	if err != nil {
		return nil, err
	}
	rt := &Router{
		cfg:       cfg,
		query:     query,
		retriever: retriever,
		ingest:    ingest,
		experts:   experts,
		contract:  contract,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt, nil
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/query", rt.processQuery)
	api.HandleFunc("POST /v1/query/stream", rt.streamQuery)
	api.HandleFunc("POST /v1/retrieve", rt.retrieveExperts)
	api.HandleFunc("POST /v1/deep-research", rt.deepResearch)
	api.HandleFunc("POST /v1/experts", rt.registerExpert)
	api.HandleFunc("POST /v1/experts/import", rt.importRoster)
	api.HandleFunc("POST /v1/experts/{id}/cv", rt.attachCV)
	api.HandleFunc("GET /v1/experts/{id}", rt.getExpertByID)

	var guarded http.Handler = api
	guarded = contractValidationMiddleware(guarded, rt.contract)
	guarded = timeoutMiddleware(guarded, rt.cfg.APIRequestTimeout)
	guarded = apiKeyMiddleware(guarded, rt.cfg.APIKey)
	guarded = backpressureMiddleware(guarded, rt.cfg.APIMaxInFlight, rt.cfg.APIQueueWait, rt.reject)
	guarded = rateLimitMiddleware(guarded, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.reject)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", rt.openAPI)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", guarded)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) reject(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPISpec)
}

func (rt *Router) processQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQueryRequest(w, r)
	if !ok {
		return
	}
	resp, err := rt.query.ProcessQuery(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamQuery emits "progress" events while the pipeline runs, then one "result" or "error" event.
func (rt *Router) streamQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQueryRequest(w, r)
	if !ok {
		return
	}
	stream, ok := newEventStream(w)
	if !ok {
		writeError(w, r, errors.New("streaming is not supported by response writer"))
		return
	}

	resp, err := rt.query.ProcessQueryWithProgress(r.Context(), req, func(event domain.ProgressEvent) {
		if sendErr := stream.Send("progress", event); sendErr != nil {
			slog.Debug("sse_progress_dropped", "request_id", requestIDFromContext(r.Context()), "error", sendErr.Error())
		}
	})
	if err != nil {
		if !stream.Started() {
			writeError(w, r, err)
			return
		}
		status := mapErrorToHTTPStatus(err)
		_ = stream.Send("error", errorBody(r, status, err))
		return
	}
	_ = stream.Send("result", resp)
}

type retrievalResponse struct {
	Result         *domain.RetrievalResult `json:"result"`
	ExecutionTrace *domain.ExecutionTrace  `json:"execution_trace,omitempty"`
}

func (rt *Router) retrieveExperts(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQueryRequest(w, r)
	if !ok {
		return
	}
	result, trace, err := rt.retriever.RetrieveExperts(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRetrievalResponse(req, result, trace))
}

func (rt *Router) deepResearch(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQueryRequest(w, r)
	if !ok {
		return
	}
	result, trace, err := rt.retriever.DeepResearch(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRetrievalResponse(req, result, trace))
}

func newRetrievalResponse(req domain.QueryRequest, result *domain.RetrievalResult, trace *domain.ExecutionTrace) retrievalResponse {
	if result == nil {
		result = domain.NewRetrievalResult()
	}
	out := retrievalResponse{Result: result}
	if req.Options.IncludeExecutionTrace {
		out.ExecutionTrace = trace
	}
	return out
}

func (rt *Router) registerExpert(w http.ResponseWriter, r *http.Request) {
	var profile domain.ExpertProfile
	if !decodeJSON(w, r, &profile) {
		return
	}
	registered, err := rt.ingest.Register(r.Context(), profile)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, registered)
}

type importResponse struct {
	Imported int                    `json:"imported"`
	Experts  []domain.ExpertProfile `json:"experts"`
}

func (rt *Router) importRoster(w http.ResponseWriter, r *http.Request) {
	file, _, ok := formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	experts, err := rt.ingest.ImportRoster(r.Context(), file)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		body := errorBody(r, status, err)
		imported := len(experts)
		body.Imported = &imported
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusAccepted, importResponse{Imported: len(experts), Experts: experts})
}

func (rt *Router) attachCV(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "attach cv", errors.New("expert id is required")))
		return
	}
	file, header, ok := formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	profile, err := rt.ingest.AttachCV(r.Context(), id, header, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, profile)
}

func (rt *Router) getExpertByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "get expert", errors.New("expert id is required")))
		return
	}
	profile, err := rt.experts.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func decodeQueryRequest(w http.ResponseWriter, r *http.Request) (domain.QueryRequest, bool) {
	var req domain.QueryRequest
	if !decodeJSON(w, r, &req) {
		return req, false
	}
	return req, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("invalid json: %w", err)))
		return false
	}
	return true
}

// formFile returns the multipart "file" part and its filename.
func formFile(w http.ResponseWriter, r *http.Request) (io.ReadCloser, string, bool) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "parse multipart", errors.New("multipart field 'file' is required")))
		return nil, "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "parse multipart", errors.New("multipart field 'file' is required")))
		return nil, "", false
	}
	return file, header.Filename, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
