package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/engine"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/repo"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/sla"
)

// Config for the HTTP API handler.
type Config struct {
	Engine engine.Engine
	// Source supplies the workflow config for each request; a config.Watcher
	// makes edits on disk visible without a restart.
	Source   config.Source
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_config"`
	Message string         `json:"message" example:"invalid workflow config: board column \"Archive\" maps to unknown status \"archived\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the workflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Source == nil {
		return nil, errors.New("server: config source is required")
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Gitea Workflow API", "0.3.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{engine: cfg.Engine, source: cfg.Source}
	registerDocs(router, basePath)
	registerHealth(group)
	registerConfig(group, h)
	registerAutomation(group, h)
	registerRuns(group, h)
	registerEvents(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	engine engine.Engine
	source config.Source
}

func (h handlers) config() (*config.WorkflowConfig, error) {
	cfg := h.source.Current()
	if cfg == nil {
		return nil, fmt.Errorf("%w: no workflow config loaded", engine.ErrInvalidConfig)
	}
	return cfg, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var pe *config.ParseError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadRequest, "invalid_config_document", err.Error(), map[string]any{"problems": pe.Problems})
	}
	switch {
	case errors.Is(err, engine.ErrInvalidConfig):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_config", err.Error(), nil)
	case errors.Is(err, engine.ErrFeatureDisabled):
		return newAPIError(http.StatusConflict, "feature_disabled", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Gitea Workflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerConfig(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Current workflow config with its validation result",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ConfigResponse `json:"body"`
	}, error) {
		cfg, err := h.config()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-config",
		Method:      http.MethodPost,
		Path:        "/config/validate",
		Summary:     "Parse and validate a workflow document",
		Description: "Parse failures are reported in problems with valid=false; nothing is stored.",
	}, func(ctx context.Context, input *struct {
		Body ValidateConfigRequest
	}) (*struct {
		Body ValidateConfigResponse `json:"body"`
	}, error) {
		resp := ValidateConfigResponse{Errors: []string{}, Warnings: []string{}}
		cfg, err := config.Parse([]byte(input.Body.YAML))
		if err != nil {
			var pe *config.ParseError
			if !errors.As(err, &pe) {
				return nil, handleError(err)
			}
			resp.Problems = pe.Problems
			for _, p := range pe.Problems {
				resp.Errors = append(resp.Errors, p.String())
			}
			return &struct {
				Body ValidateConfigResponse `json:"body"`
			}{Body: resp}, nil
		}
		res := validationResponse(cfg.Validate())
		resp.Valid = res.Valid
		resp.Errors = res.Errors
		resp.Warnings = res.Warnings
		return &struct {
			Body ValidateConfigResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "default-config",
		Method:      http.MethodGet,
		Path:        "/config/default",
		Summary:     "Generate the default workflow config for a project type",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type" required:"true" enum:"backend,frontend,fullstack,library"`
		Language string `query:"language"`
	}) (*struct {
		Body DefaultConfigResponse `json:"body"`
	}, error) {
		cfg := config.GenerateDefault(input.Type, input.Language)
		data, err := config.Serialize(cfg)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DefaultConfigResponse `json:"body"`
		}{Body: DefaultConfigResponse{Config: cfg, YAML: string(data)}}, nil
	})
}

type RepoPath struct {
	Owner string `path:"owner"`
	Repo  string `path:"repo"`
}

func (p RepoPath) name() string { return p.Owner + "/" + p.Repo }

func (h handlers) runOptions(ctx context.Context, p RepoPath) (engine.RunOptions, error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return engine.RunOptions{}, authErr
	}
	return engine.RunOptions{Repository: p.name(), ActorID: actorID}, nil
}

func registerAutomation(api huma.API, h handlers) {
	automationErrors := []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity}

	huma.Register(api, huma.Operation{
		OperationID: "infer-labels",
		Method:      http.MethodPost,
		Path:        "/repos/{owner}/{repo}/inference",
		Summary:     "Suggest type, priority and area labels for issues",
		Errors:      automationErrors,
	}, func(ctx context.Context, input *struct {
		RepoPath
		Body InferLabelsRequest
	}) (*struct {
		Body InferLabelsResponse `json:"body"`
	}, error) {
		opts, err := h.runOptions(ctx, input.RepoPath)
		if err != nil {
			return nil, handleError(err)
		}
		cfg, err := h.config()
		if err != nil {
			return nil, handleError(err)
		}
		results, run, err := h.engine.InferLabels(ctx, cfg, toIssues(input.Body.Issues), opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InferLabelsResponse `json:"body"`
		}{Body: InferLabelsResponse{Run: runResponse(run), Results: nonNilSlice(results)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "detect-blocked",
		Method:      http.MethodPost,
		Path:        "/repos/{owner}/{repo}/blocked",
		Summary:     "Classify open issues against their priority SLA",
		Errors:      automationErrors,
	}, func(ctx context.Context, input *struct {
		RepoPath
		Body DetectBlockedRequest
	}) (*struct {
		Body DetectBlockedResponse `json:"body"`
	}, error) {
		opts, err := h.runOptions(ctx, input.RepoPath)
		if err != nil {
			return nil, handleError(err)
		}
		cfg, err := h.config()
		if err != nil {
			return nil, handleError(err)
		}
		statuses, run, err := h.engine.DetectBlocked(ctx, cfg, toIssues(input.Body.Issues), input.Body.OverrideHours, opts)
		if err != nil {
			return nil, handleError(err)
		}
		counts := map[string]int{}
		for _, state := range []domain.BlockedState{domain.StateBlocked, domain.StateWarning, domain.StateOK} {
			counts[string(state)] = 0
		}
		for state, n := range sla.Summary(statuses) {
			counts[string(state)] = n
		}
		return &struct {
			Body DetectBlockedResponse `json:"body"`
		}{Body: DetectBlockedResponse{Run: runResponse(run), Counts: counts, Statuses: nonNilSlice(statuses)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "plan-escalations",
		Method:      http.MethodPost,
		Path:        "/repos/{owner}/{repo}/escalations",
		Summary:     "Plan priority escalations",
		Description: "Decisions are returned for the caller to apply; dry_run defaults to true.",
		Errors:      automationErrors,
	}, func(ctx context.Context, input *struct {
		RepoPath
		Body PlanEscalationsRequest
	}) (*struct {
		Body PlanEscalationsResponse `json:"body"`
	}, error) {
		opts, err := h.runOptions(ctx, input.RepoPath)
		if err != nil {
			return nil, handleError(err)
		}
		cfg, err := h.config()
		if err != nil {
			return nil, handleError(err)
		}
		opts.DryRun = input.Body.DryRun == nil || *input.Body.DryRun
		decisions, run, err := h.engine.EscalatePriorities(ctx, cfg, toIssues(input.Body.Issues), input.Body.RepoLabels, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanEscalationsResponse `json:"body"`
		}{Body: PlanEscalationsResponse{Run: runResponse(run), Decisions: nonNilSlice(decisions)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "plan-sync",
		Method:      http.MethodPost,
		Path:        "/repos/{owner}/{repo}/sync-plan",
		Summary:     "Diff configured labels and board columns against the repository",
		Errors:      automationErrors,
	}, func(ctx context.Context, input *struct {
		RepoPath
		Body PlanSyncRequest
	}) (*struct {
		Body PlanSyncResponse `json:"body"`
	}, error) {
		opts, err := h.runOptions(ctx, input.RepoPath)
		if err != nil {
			return nil, handleError(err)
		}
		cfg, err := h.config()
		if err != nil {
			return nil, handleError(err)
		}
		plan, run, err := h.engine.PlanSync(ctx, cfg, input.Body.Labels, input.Body.Columns, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanSyncResponse `json:"body"`
		}{Body: PlanSyncResponse{Run: runResponse(run), Plan: plan}}, nil
	})
}

func registerRuns(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List recorded runs, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Repository string `query:"repository"`
		Kind       string `query:"kind" enum:"inference,blocked,escalation,sync"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedRuns `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := h.engine.Repo.ListRuns(ctx, repo.RunFilters{
			Repository:      input.Repository,
			Kind:            input.Kind,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedRuns{Items: []RunResponse{}}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		for _, r := range items {
			resp.Items = append(resp.Items, runResponse(r))
		}
		return &struct {
			Body paginatedRuns `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get a run with its items",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunDetailResponse `json:"body"`
	}, error) {
		detail, err := h.engine.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunDetailResponse `json:"body"`
		}{Body: runDetailResponse(detail)}, nil
	})
}

func registerEvents(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Repository string `query:"repository"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"run,config"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := h.engine.Repo.LatestEvents(ctx, repo.EventFilters{
			Repository: input.Repository,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit + 1,
			Before:     before,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
