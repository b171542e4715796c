package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	appai "github.com/bryanwahyu/automaton-cicd/internal/application/ai"
	appdeploy "github.com/bryanwahyu/automaton-cicd/internal/application/deploy"
	apppipes "github.com/bryanwahyu/automaton-cicd/internal/application/pipes"
	"github.com/bryanwahyu/automaton-cicd/internal/config"
	domai "github.com/bryanwahyu/automaton-cicd/internal/domain/ai"
	depdomain "github.com/bryanwahyu/automaton-cicd/internal/domain/deploy"
	"github.com/bryanwahyu/automaton-cicd/internal/domain/piperrors"
	domain "github.com/bryanwahyu/automaton-cicd/internal/domain/pipes"
	"github.com/bryanwahyu/automaton-cicd/internal/middleware"
)

type Router struct {
	pipesSvc  *apppipes.Service
	deploySvc *appdeploy.Service
	aiSvc     *appai.Service
	errors    piperrors.Repository
	envs      map[string]config.EnvironmentConfig
}

func NewRouter(
	pipesSvc *apppipes.Service,
	deploySvc *appdeploy.Service,
	aiSvc *appai.Service,
	errs piperrors.Repository,
	envs map[string]config.EnvironmentConfig,
	checkers map[string]middleware.HealthChecker,
) http.Handler {
	r := &Router{pipesSvc: pipesSvc, deploySvc: deploySvc, aiSvc: aiSvc, errors: errs, envs: envs}
	mux := chi.NewRouter()

	mux.Get("/health", middleware.HealthHandler(checkers))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		rt.Use(middleware.RequireValidTenant)

		rt.Post("/webhook/pipeline", r.wrap(r.handleTriggerPipe))
		rt.Post("/runs/{id}/retry", r.wrap(r.handleRetry))
		rt.Get("/runs/latest", r.wrap(r.handleLatest))
		rt.Get("/runs/{id}/errors", r.wrap(r.handleRunErrors))
		rt.Get("/runs/{id}", r.wrap(r.handleGet))
		rt.Get("/runs", r.wrap(r.handlePaginate))
		rt.Get("/summary", r.wrap(r.handleSummary))

		rt.Post("/deployments", r.wrap(r.handleDeploy))
		rt.Get("/deployments/latest", r.wrap(r.handleDeployLatest))
		rt.Get("/deployments/{id}", r.wrap(r.handleDeployGet))

		rt.Post("/ai/analyze", r.wrap(r.handleAIAnalyze))
		rt.Get("/ai/analyze/latest", r.wrap(r.handleAIAnalyzeLatest))
		rt.Get("/ai/analyze", r.wrap(r.handleAIAnalyzeList))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

type validationError struct{ err error }

func (v validationError) Error() string { return v.err.Error() }

func badRequest(err error) error {
	if err == nil {
		return nil
	}
	return validationError{err: err}
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var vErr validationError
			if errors.As(err, &vErr) {
				http.Error(w, vErr.Error(), http.StatusBadRequest)
				return
			}
			if errors.Is(err, sql.ErrNoRows) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			if errors.Is(err, domai.ErrQuotaExceeded) {
				http.Error(w, "ai quota exceeded", http.StatusTooManyRequests)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// POST /v1/{tenant}/webhook/pipeline
func (r *Router) handleTriggerPipe(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")

	var body struct {
		Pipe      string `json:"pipe"`
		Workspace string `json:"workspace"`
		Image     string `json:"image"`
		Chart     string `json:"chart"`
		Tag       string `json:"tag"`
		Push      bool   `json:"push"`
		Source    string `json:"source"`
		CommitSHA string `json:"commit_sha"`
		Branch    string `json:"branch"`
		Metadata  any    `json:"metadata"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest(err)
	}
	if err := middleware.ValidatePipe(body.Pipe); err != nil {
		return badRequest(err)
	}
	if err := middleware.ValidateImageName(body.Image); err != nil {
		return badRequest(err)
	}
	if err := middleware.ValidatePath(body.Workspace); err != nil {
		return badRequest(err)
	}
	if err := middleware.ValidatePath(body.Chart); err != nil {
		return badRequest(err)
	}

	cmd := apppipes.TriggerPipeCommand{
		TenantID:  tenant,
		Pipe:      body.Pipe,
		Workspace: body.Workspace,
		Image:     body.Image,
		Chart:     body.Chart,
		Tag:       body.Tag,
		Push:      body.Push,
		Source:    body.Source,
		CommitSHA: body.CommitSHA,
		Branch:    body.Branch,
		Metadata:  body.Metadata,
	}

	// 🚀 Jalankan di background, biar jalan sampai selesai
	go func() {
		middleware.IncrementRuns()
		middleware.IncrementRunsRunning()
		defer middleware.DecrementRunsRunning()

		result, err := r.pipesSvc.TriggerPipeUntilDone(cmd)
		if err != nil {
			fmt.Printf("background pipe error for tenant=%s pipe=%s: %v\n",
				tenant, body.Pipe, err)
			middleware.IncrementRunsFailed()
			return
		}

		// kalau berhasil → mark done
		_ = r.pipesSvc.MarkDone(cmd.TenantID, result)
		if result.Status == string(domain.StatusFailed) {
			middleware.IncrementRunsFailed()
		}
		fmt.Printf("pipe finished: tenant=%s pipe=%s status=%s artifact=%s\n",
			tenant, body.Pipe, result.Status, result.ArtifactURL)
	}()

	// 🔙 langsung balikin respons ke client
	resp := map[string]any{
		"status":   "queued",
		"tenant":   tenant,
		"pipe":     body.Pipe,
		"branch":   body.Branch,
		"commit":   body.CommitSHA,
		"message":  "pipe started in background",
		"queuedAt": time.Now(),
	}
	return writeJSON(w, resp)
}

// POST /v1/{tenant}/runs/{id}/retry
func (r *Router) handleRetry(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateRunID(id); err != nil {
		return badRequest(err)
	}

	result, err := r.pipesSvc.RetryPipe(req.Context(), tenant, domain.RunID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

// GET /v1/{tenant}/runs/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.pipesSvc.Latest(req.Context(), tenant, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/runs/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")

	run, err := r.pipesSvc.Get(req.Context(), tenant, domain.RunID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, run)
}

// GET /v1/{tenant}/runs/{id}/errors?limit=20
func (r *Router) handleRunErrors(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	if r.errors == nil {
		return writeJSON(w, []*piperrors.PipeError{})
	}
	list, err := r.errors.ListByRun(req.Context(), tenant, id, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/runs?page=&page_size=&pipe=&status=&image=&branch=
func (r *Router) handlePaginate(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	q := req.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))

	filters := map[string]interface{}{}
	for _, key := range []string{"pipe", "status", "image", "branch"} {
		if v := q.Get(key); v != "" {
			filters[key] = middleware.SanitizeString(v)
		}
	}

	result, err := r.pipesSvc.Paginate(req.Context(), tenant, page, middleware.ValidateLimit(size), filters)
	if err != nil {
		return err
	}
	return writeJSON(w, result)
}

// GET /v1/{tenant}/summary?days=7
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))

	summary, err := r.pipesSvc.Summary(req.Context(), tenant, middleware.ValidateDays(days))
	if err != nil {
		return err
	}
	return writeJSON(w, summary)
}

// POST /v1/{tenant}/deployments
// Runs the full deploy sequence synchronously; the CI step gates on the
// returned status, so the connection is held until the deploy settles.
func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")

	var body struct {
		Environment            string            `json:"environment"`
		Release                string            `json:"release"`
		Namespace              string            `json:"namespace"`
		Chart                  string            `json:"chart"`
		ImageTag               string            `json:"image_tag"`
		KubeconfigB64          string            `json:"kubeconfig_b64"`
		ValuesFiles            []string          `json:"values_files"`
		SetValues              map[string]string `json:"set_values"`
		TimeoutSeconds         int               `json:"timeout_seconds"`
		Service                string            `json:"service"`
		ServicePort            int               `json:"service_port"`
		SmokePaths             []string          `json:"smoke_paths"`
		RollbackOnSmokeFailure *bool             `json:"rollback_on_smoke_failure"`
		CommitSHA              string            `json:"commit_sha"`
		Branch                 string            `json:"branch"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest(err)
	}
	if err := middleware.ValidateEnvironment(body.Environment); err != nil {
		return badRequest(err)
	}
	if err := middleware.ValidateReleaseName(body.Release); err != nil {
		return badRequest(err)
	}
	if body.Chart == "" {
		return badRequest(fmt.Errorf("chart is required"))
	}
	if body.KubeconfigB64 == "" {
		return badRequest(fmt.Errorf("kubeconfig_b64 is required"))
	}

	// Operator-managed environment defaults, request values win
	envCfg := r.envs[body.Environment]
	dreq := depdomain.Request{
		Environment:            depdomain.Environment(body.Environment),
		Release:                body.Release,
		Namespace:              body.Namespace,
		Chart:                  body.Chart,
		ImageTag:               body.ImageTag,
		KubeconfigB64:          body.KubeconfigB64,
		ValuesFiles:            body.ValuesFiles,
		SetValues:              body.SetValues,
		Service:                body.Service,
		ServicePort:            body.ServicePort,
		SmokePaths:             body.SmokePaths,
		RollbackOnSmokeFailure: envCfg.RollbackOnSmokeFailure,
		CommitSHA:              body.CommitSHA,
		Branch:                 body.Branch,
	}
	if dreq.Namespace == "" {
		dreq.Namespace = envCfg.Namespace
	}
	if len(dreq.ValuesFiles) == 0 {
		dreq.ValuesFiles = envCfg.ValuesFiles
	}
	if dreq.Service == "" {
		dreq.Service = envCfg.Service
		dreq.ServicePort = envCfg.ServicePort
	}
	if len(dreq.SmokePaths) == 0 {
		dreq.SmokePaths = envCfg.SmokePaths
	}
	if body.TimeoutSeconds > 0 {
		dreq.Timeout = time.Duration(body.TimeoutSeconds) * time.Second
	} else {
		dreq.Timeout = envCfg.Timeout()
	}
	if body.RollbackOnSmokeFailure != nil {
		dreq.RollbackOnSmokeFailure = *body.RollbackOnSmokeFailure
	}
	if err := middleware.ValidateNamespace(dreq.Namespace); err != nil {
		return badRequest(err)
	}

	middleware.IncrementDeploys()
	d, runErr := r.deploySvc.Run(req.Context(), tenant, dreq)
	switch d.Status {
	case depdomain.StatusFailed:
		middleware.IncrementDeploysFailed()
	case depdomain.StatusRolledBack:
		middleware.IncrementDeploysRolledBack()
	}

	// The deployment aggregate carries the failure detail; surface it with a
	// 5xx so the calling pipeline step fails without parsing the body.
	if runErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		return json.NewEncoder(w).Encode(d)
	}
	return writeJSON(w, d)
}

// GET /v1/{tenant}/deployments/latest?limit=20
func (r *Router) handleDeployLatest(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.deploySvc.Latest(req.Context(), tenant, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/deployments/{id}
func (r *Router) handleDeployGet(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")

	d, err := r.deploySvc.Get(req.Context(), tenant, depdomain.DeployID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, d)
}

// POST /v1/{tenant}/ai/analyze
// Body: {"run_id": "<id>"}
// The server fetches the run's artifact_url and runs AI analysis on it.
func (r *Router) handleAIAnalyze(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	var body struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest(err)
	}
	if body.RunID == "" {
		return badRequest(fmt.Errorf("run_id is required"))
	}

	// Lookup run to get artifact URL
	run, err := r.pipesSvc.Get(req.Context(), tenant, domain.RunID(body.RunID))
	if err != nil {
		return err
	}
	if run == nil || run.ArtifactURL == "" {
		return badRequest(fmt.Errorf("artifact_url not found for run_id: %s", body.RunID))
	}

	a, err := r.aiSvc.AnalyzeAndStore(req.Context(), tenant, body.RunID, run.ArtifactURL)
	if err != nil {
		return err
	}
	return writeJSON(w, a)
}

// GET /v1/{tenant}/ai/analyze?page=&page_size=
func (r *Router) handleAIAnalyzeList(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))

	list, err := r.aiSvc.ListAnalyses(req.Context(), tenant, page, size)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/ai/analyze/latest?run_id=
func (r *Router) handleAIAnalyzeLatest(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	runID := req.URL.Query().Get("run_id")
	if runID == "" {
		return badRequest(fmt.Errorf("run_id is required"))
	}

	a, err := r.aiSvc.LatestByRun(req.Context(), tenant, runID)
	if err != nil {
		return err
	}
	if a == nil {
		return sql.ErrNoRows
	}
	return writeJSON(w, a)
}
