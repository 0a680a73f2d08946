// Package server exposes the monitoring registry over HTTP with an OpenAPI
// description. Mutations carry the caller's revision in X-Revision; reads
// come back masked according to the viewer.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"caseline/internal/lifecycle"
	"caseline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   lifecycle.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid status transition draft -> addressed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the monitoring API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(cfg.Auth))
	hcfg := huma.DefaultConfig("Caseline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerCases(group, cfg.Engine, cfg.Auth.logger())
	registerRevisions(group, cfg.Engine)

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
	var ite lifecycle.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(),
			map[string]any{"from": string(ite.From), "to": string(ite.To)})
	}
	var ve lifecycle.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), details)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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

type caseOutput struct {
	XRevision int `header:"X-Revision"`
	Body      map[string]any
}

func registerCases(api huma.API, e lifecycle.Engine, logger *slog.Logger) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-monitoring",
		Method:        http.MethodPost,
		Path:          "/monitorings",
		Summary:       "Create monitoring",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*caseOutput, error) {
		if authErr := requireOfficer(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.TenderID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "tenderId is required", nil)
		}
		sc := scopeFromContext(ctx)
		c, rev, err := e.Create(ctx, sc, lifecycle.CreateOptions{
			TenderID:          input.Body.TenderID,
			Reasons:           input.Body.Reasons,
			Procedure:         input.Body.Procedure,
			MonitoringDetails: input.Body.MonitoringDetails,
			ProcuringEntity:   input.Body.ProcuringEntity,
			Parties:           input.Body.Parties,
		})
		if err != nil {
			return nil, handleError(err)
		}
		doc, err := presentCase(c, rev, principalFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{XRevision: rev, Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-monitorings",
		Method:      http.MethodGet,
		Path:        "/monitorings",
		Summary:     "List monitorings",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status"`
		Restricted string `query:"restricted"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedCases `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorModified, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filters := repo.CaseFilters{
			Status:         input.Status,
			Limit:          limit + 1,
			CursorModified: cursorModified,
			CursorID:       cursorID,
		}
		if input.Restricted != "" {
			restricted := input.Restricted == "true"
			filters.Restricted = &restricted
		}
		items, err := e.Repo.List(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedCases{Items: []map[string]any{}}
		if len(items) > limit {
			last := items[limit]
			resp.NextCursor = composeCursor(last.Case.DateModified, last.Case.ID)
			items = items[:limit]
		}
		resp.Items, err = mapCases(items, principalFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedCases `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-monitoring",
		Method:      http.MethodGet,
		Path:        "/monitorings/{id}",
		Summary:     "Get monitoring",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*caseOutput, error) {
		c, rev, err := e.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		doc, err := presentCase(c, rev, principalFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{XRevision: rev, Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "patch-monitoring",
		Method:      http.MethodPatch,
		Path:        "/monitorings/{id}",
		Summary:     "Patch monitoring",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		XRevision int    `header:"X-Revision"`
		Revision  int    `query:"revision"`
		RawBody   []byte `contentType:"application/json"`
	}) (*caseOutput, error) {
		if authErr := requireOfficer(ctx); authErr != nil {
			return nil, authErr
		}
		if len(input.RawBody) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		expected := input.XRevision
		if expected <= 0 {
			expected = input.Revision
		}
		if expected <= 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "X-Revision header or revision query is required", nil)
		}
		sc := scopeFromContext(ctx)
		c, rev, err := e.ApplyPatch(ctx, sc, input.ID, input.RawBody, expected)
		if err != nil {
			logger.Warn("patch rejected", "case_id", input.ID, "actor_id", sc.ActorID, "error", err)
			return nil, handleError(err)
		}
		doc, err := presentCase(c, rev, principalFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &caseOutput{XRevision: rev, Body: doc}, nil
	})
}

func registerRevisions(api huma.API, e lifecycle.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-monitoring-revisions",
		Method:      http.MethodGet,
		Path:        "/monitorings/{id}/revisions",
		Summary:     "List monitoring revisions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []revisionResponse `json:"body"`
	}, error) {
		if _, _, err := e.Get(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		recs, err := e.Repo.ListRevisions(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]revisionResponse, 0, len(recs))
		for _, rec := range recs {
			res = append(res, revisionResponseOf(rec))
		}
		return &struct {
			Body []revisionResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-monitoring-revision",
		Method:      http.MethodGet,
		Path:        "/monitorings/{id}/revisions/{rev}",
		Summary:     "Get monitoring revision",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID  string `path:"id"`
		Rev int    `path:"rev" minimum:"1"`
	}) (*struct {
		Body revisionResponse `json:"body"`
	}, error) {
		rec, err := e.Repo.GetRevision(ctx, input.ID, input.Rev)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body revisionResponse `json:"body"`
		}{Body: revisionResponseOf(rec)}, nil
	})
}
