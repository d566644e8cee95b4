package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/record"
	"agentline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"quota_exceeded"`
	Message string         `json:"message" example:"Daily request limit reached"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Agentline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Agentline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerChat(group, cfg.Engine)
	registerTools(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerActions(group, cfg.Engine)
	registerSessions(group, cfg.Engine)
	registerQuota(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerRecords(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var nfe engine.NotFoundError
	if errors.As(err, &nfe) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var qe engine.QuotaExceededError
	if errors.As(err, &qe) {
		return newAPIError(http.StatusTooManyRequests, "quota_exceeded", qe.Reason, map[string]any{
			"remaining_requests": qe.RemainingRequests,
			"remaining_tokens":   qe.RemainingTokens,
		})
	}
	var re engine.RollbackNotAllowedError
	if errors.As(err, &re) {
		return newAPIError(http.StatusConflict, "rollback_conflict", err.Error(), map[string]any{
			"action_id": re.ActionID,
			"status":    re.Status,
		})
	}
	var ee engine.ExecutionError
	if errors.As(err, &ee) {
		return newAPIError(http.StatusUnprocessableEntity, "execution_failed", err.Error(), map[string]any{
			"action_id": ee.ActionID,
		})
	}
	var pe engine.ProviderError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadGateway, "provider_error", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusTooManyRequests:
		return "quota_exceeded"
	case http.StatusForbidden:
		return "forbidden"
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
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
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
    <title>Agentline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerChat(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Run one governed conversation turn",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body ChatRequestBody `json:"body"`
	}) (*struct {
		Body engine.ChatResult `json:"body"`
	}, error) {
		principalID, authErr := principalIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		result, err := e.Chat(ctx, engine.ChatRequest{
			PrincipalID: principalID,
			SessionID:   input.Body.SessionID,
			AgentName:   input.Body.Agent,
			Message:     input.Body.Message,
			Overrides: engine.RequestOverrides{
				Model:       input.Body.Model,
				Temperature: input.Body.Temperature,
				MaxTokens:   input.Body.MaxTokens,
			},
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ChatResult `json:"body"`
		}{Body: *result}, nil
	})
}

func registerTools(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tools",
		Method:      http.MethodGet,
		Path:        "/tools",
		Summary:     "List registered tools",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ToolListResponse `json:"body"`
	}, error) {
		if _, authErr := principalIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body ToolListResponse `json:"body"`
		}{Body: ToolListResponse{Tools: e.Tools.List()}}, nil
	})
}

func registerAgents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AgentListResponse `json:"body"`
	}, error) {
		if _, authErr := principalIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		agents, err := e.Repo.ListAgents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if agents == nil {
			agents = []domain.Agent{}
		}
		return &struct {
			Body AgentListResponse `json:"body"`
		}{Body: AgentListResponse{Agents: agents}}, nil
	})
}

func registerActions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "List action records",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SessionID  string `query:"session_id"`
		Status     string `query:"status" enum:",PENDING,EXECUTED,FAILED,ROLLED_BACK"`
		ActionType string `query:"action_type" enum:",CREATE,UPDATE,DELETE,QUERY"`
		TargetType string `query:"target_type"`
		Mine       bool   `query:"mine" doc:"Only actions by the authenticated principal"`
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body ActionListResponse `json:"body"`
	}, error) {
		principalID, authErr := principalIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filters := repo.ActionFilters{
			SessionID:  input.SessionID,
			Status:     input.Status,
			ActionType: input.ActionType,
			TargetType: input.TargetType,
			Limit:      input.Limit,
		}
		if filters.Limit == 0 {
			filters.Limit = 50
		}
		if input.Mine {
			filters.PrincipalID = principalID
		}
		actions, err := e.Repo.ListActions(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		if actions == nil {
			actions = []domain.ActionRecord{}
		}
		return &struct {
			Body ActionListResponse `json:"body"`
		}{Body: ActionListResponse{Actions: actions}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/actions/{action_id}",
		Summary:     "Get one action record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActionID string `path:"action_id"`
	}) (*struct {
		Body domain.ActionRecord `json:"body"`
	}, error) {
		if _, authErr := principalIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		action, err := e.Repo.GetAction(ctx, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActionRecord `json:"body"`
		}{Body: action}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rollback-action",
		Method:      http.MethodPost,
		Path:        "/actions/{action_id}/rollback",
		Summary:     "Reverse an executed action",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ActionID string              `path:"action_id"`
		Body     RollbackRequestBody `json:"body"`
	}) (*struct {
		Body RollbackResponse `json:"body"`
	}, error) {
		principalID, authErr := principalIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		result, err := e.Rollback(ctx, input.ActionID, input.Body.Reason, principalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RollbackResponse `json:"body"`
		}{Body: RollbackResponse{
			Action:      result.Action,
			NewTargetID: result.NewTargetID,
			Warnings:    result.Warnings,
		}}, nil
	})
}

func registerSessions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List conversation sessions",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body SessionListResponse `json:"body"`
	}, error) {
		principalID, authErr := principalIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit == 0 {
			limit = 50
		}
		sessions, err := e.Repo.ListSessions(ctx, principalID, limit)
		if err != nil {
			return nil, handleError(err)
		}
		if sessions == nil {
			sessions = []domain.Session{}
		}
		return &struct {
			Body SessionListResponse `json:"body"`
		}{Body: SessionListResponse{Sessions: sessions}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get one session with its message log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body domain.Session `json:"body"`
	}, error) {
		if _, authErr := principalIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		session, err := e.Repo.GetSession(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Session `json:"body"`
		}{Body: session}, nil
	})
}

func registerQuota(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-quota",
		Method:      http.MethodGet,
		Path:        "/quota",
		Summary:     "Current daily quota usage for the caller",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.QuotaStatus `json:"body"`
	}, error) {
		principalID, authErr := principalIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body engine.QuotaStatus `json:"body"`
		}{Body: e.Quota.Status(principalID)}, nil
	})
}

func registerAudit(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "audit-summary",
		Method:      http.MethodGet,
		Path:        "/audit/summary",
		Summary:     "Aggregate stats over the audit buffer",
	}, func(ctx context.Context, input *struct {
		Since string `query:"since" doc:"RFC3339 lower bound for the aggregation window"`
	}) (*struct {
		Body engine.AuditSummary `json:"body"`
	}, error) {
		if _, authErr := principalIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body engine.AuditSummary `json:"body"`
		}{Body: e.Audit.Summary(input.Since)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "audit-entries",
		Method:      http.MethodGet,
		Path:        "/audit/entries",
		Summary:     "Recent audit entries, newest first",
	}, func(ctx context.Context, input *struct {
		PrincipalID string `query:"principal_id"`
		Model       string `query:"model"`
		Status      string `query:"status" enum:",ok,error"`
		Since       string `query:"since" doc:"RFC3339 lower bound"`
		Limit       int    `query:"limit" minimum:"0" maximum:"1000"`
	}) (*struct {
		Body AuditEntriesResponse `json:"body"`
	}, error) {
		if _, authErr := principalIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		entries := e.Audit.ListEntries(engine.AuditFilters{
			PrincipalID: input.PrincipalID,
			Model:       input.Model,
			Status:      input.Status,
			Since:       input.Since,
			Limit:       input.Limit,
		})
		return &struct {
			Body AuditEntriesResponse `json:"body"`
		}{Body: AuditEntriesResponse{Entries: entries}}, nil
	})
}

func registerRecords(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/records/{record_type}/{record_id}",
		Summary:     "Read one business record by type and id",
		Description: "Lets an operator verify record state before or after a rollback. Soft-deleted records are returned with is_active=false.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RecordType string `path:"record_type" example:"business.Company"`
		RecordID   string `path:"record_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, authErr := principalIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		accessor, err := e.Records.Get(input.RecordType)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{
				"supported_types": e.Records.Types(),
			})
		}
		snapshot, err := accessor.Get(ctx, e.DB, input.RecordID)
		if errors.Is(err, record.ErrNotFound) {
			return nil, newAPIError(http.StatusNotFound, "not_found",
				fmt.Sprintf("%s %s not found", input.RecordType, input.RecordID), nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: snapshot}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events from the append-only trail",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		if _, authErr := principalIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit == 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Events: items}}, nil
	})
}
