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
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"taskboard/internal/dnd"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/logging"
	"taskboard/internal/metrics"
	"taskboard/internal/notify"
	"taskboard/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine  *engine.Engine
	Drag    *dnd.Controller
	Notices *notify.Center
	// Events is the sqlite event log; nil disables GET /events.
	Events   *repo.Repo
	Metrics  *metrics.Metrics
	Logger   *zap.SugaredLogger
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"card 42: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the board API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	if cfg.Drag == nil {
		cfg.Drag = dnd.NewController(cfg.Engine, dnd.LayoutFrom(cfg.Engine.Config.Board.Layout), cfg.Engine.Config.Board.ProximityOffset)
	}
	if cfg.Notices == nil {
		cfg.Notices = wireNotices(cfg.Engine)
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
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Use(accessLog(cfg.Logger))
	hcfg := huma.DefaultConfig("Taskboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerBoard(group, cfg.Engine)
	registerCards(group, cfg.Engine)
	registerDrag(group, cfg.Drag)
	registerTrash(group, cfg.Engine)
	registerNotifications(group, cfg.Notices)
	registerEvents(group, cfg.Events)
	registerOpenAPI(router, api, basePath)
	router.Get(path.Join(basePath, "notifications/ws"), notify.NewHub(cfg.Notices, cfg.Logger).ServeHTTP)
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}
	return router, nil
}

// wireNotices returns the center the engine already notifies, or attaches a
// new one next to whatever notifier the engine has.
func wireNotices(e *engine.Engine) *notify.Center {
	if c, ok := e.Notify.(*notify.Center); ok && c != nil {
		return c
	}
	c := notify.NewCenter(e.Config.Board.NotificationTTL)
	if e.Notify == nil {
		e.Notify = c
	} else {
		e.Notify = teeNotifier{e.Notify, c}
	}
	return c
}

type teeNotifier []engine.Notifier

func (t teeNotifier) Notify(text string, typ domain.NotificationType) {
	for _, n := range t {
		n.Notify(text, typ)
	}
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
	var forbidden ForbiddenError
	if errors.As(err, &forbidden) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"scope": forbidden.Scope})
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidColumn):
		return newAPIError(http.StatusBadRequest, "invalid_column", err.Error(), nil)
	case errors.Is(err, dnd.ErrBadIndicators):
		return newAPIError(http.StatusBadRequest, "bad_indicators", err.Error(), nil)
	case errors.Is(err, domain.ErrNoDrag):
		return newAPIError(http.StatusConflict, "no_drag", err.Error(), nil)
	case errors.Is(err, engine.ErrNotEditing):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
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
	case http.StatusForbidden:
		return "forbidden"
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

func accessLog(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			}
			if p, ok := principalFromContext(r.Context()); ok {
				fields = append(fields, "subject", p.Subject)
			}
			log.Debugw("http request", fields...)
		})
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
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
	security := []map[string][]string{{"bearerAuth": {}}}
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
    <title>Taskboard API Docs</title>
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
      When the server has a JWT secret, authenticate with Authorization: Bearer &lt;token&gt;.
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

func registerBoard(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/board",
		Summary:     "Cards grouped by column plus the deleted history",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: boardResponse(e.Config, e.Cards(), e.Deleted())}, nil
	})
}

func registerCards(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-cards",
		Method:      http.MethodGet,
		Path:        "/cards",
		Summary:     "List cards in store order",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Column string `query:"column" enum:"backlog,todo,doing,done"`
	}) (*struct {
		Body []domain.Card `json:"body"`
	}, error) {
		cards := e.Cards()
		if input.Column != "" {
			col, err := domain.ParseColumn(input.Column)
			if err != nil {
				return nil, handleError(err)
			}
			cards = e.CardsIn(col)
		}
		return &struct {
			Body []domain.Card `json:"body"`
		}{Body: cards}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-card",
		Method:        http.MethodPost,
		Path:          "/cards",
		Summary:       "Add a card at the end of the board",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body AddCardRequest `json:"body"`
	}) (*struct {
		Body AddCardResponse `json:"body"`
	}, error) {
		card, ok, err := e.Add(ctx, input.Body.Column, input.Body.Title)
		if err != nil {
			return nil, handleError(err)
		}
		res := AddCardResponse{Added: ok}
		if ok {
			res.Card = &card
		}
		return &struct {
			Body AddCardResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-card",
		Method:      http.MethodPatch,
		Path:        "/cards/{id}",
		Summary:     "Commit a title edit; an empty title deletes the card",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body EditCardRequest `json:"body"`
	}) (*struct {
		Body engine.EditResult `json:"body"`
	}, error) {
		res, err := e.Retitle(ctx, input.ID, input.Body.Title)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.EditResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-card",
		Method:      http.MethodDelete,
		Path:        "/cards/{id}",
		Summary:     "Move a card to the deleted history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.DeletedCard `json:"body"`
	}, error) {
		entry, ok := e.Delete(ctx, input.ID)
		if !ok {
			return nil, handleError(fmt.Errorf("card %s: %w", input.ID, domain.ErrNotFound))
		}
		return &struct {
			Body domain.DeletedCard `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-card",
		Method:      http.MethodPost,
		Path:        "/cards/{id}/move",
		Summary:     "Move a card before another card or to the end",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body MoveCardRequest `json:"body"`
	}) (*struct {
		Body MoveCardResponse `json:"body"`
	}, error) {
		moved, err := e.Move(ctx, input.ID, input.Body.Column, input.Body.BeforeID)
		if err != nil {
			return nil, handleError(err)
		}
		res := MoveCardResponse{Moved: moved}
		if card, ok := e.Card(input.ID); ok {
			res.Card = &card
		}
		return &struct {
			Body MoveCardResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerDrag(api huma.API, ctl *dnd.Controller) {
	huma.Register(api, huma.Operation{
		OperationID: "drag-begin",
		Method:      http.MethodPost,
		Path:        "/drag/begin",
		Summary:     "Start dragging a card",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body DragBeginRequest `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := ctl.Begin(input.Body.CardID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"card_id": input.Body.CardID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "drag-hover",
		Method:      http.MethodPost,
		Path:        "/drag/hover",
		Summary:     "Resolve and highlight the nearest drop target",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body DragPointRequest `json:"body"`
	}) (*struct {
		Body domain.Indicator `json:"body"`
	}, error) {
		ind, err := ctl.Hover(input.Body.Y, input.Body.Column, input.Body.Indicators)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Indicator `json:"body"`
		}{Body: ind}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "drag-drop",
		Method:      http.MethodPost,
		Path:        "/drag/drop",
		Summary:     "Drop the dragged card at the nearest target",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body DragPointRequest `json:"body"`
	}) (*struct {
		Body dnd.DropResult `json:"body"`
	}, error) {
		res, err := ctl.Drop(ctx, input.Body.Y, input.Body.Column, input.Body.Indicators)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body dnd.DropResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "drag-trash",
		Method:      http.MethodPost,
		Path:        "/drag/trash",
		Summary:     "Drop the dragged card on the trash target",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body dnd.DropResult `json:"body"`
	}, error) {
		res, err := ctl.DropOnTrash(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body dnd.DropResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "drag-cancel",
		Method:      http.MethodPost,
		Path:        "/drag/cancel",
		Summary:     "Abandon the current drag",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]bool `json:"body"`
	}, error) {
		ctl.Cancel()
		return &struct {
			Body map[string]bool `json:"body"`
		}{Body: map[string]bool{"cancelled": true}}, nil
	})
}

func registerTrash(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-trash",
		Method:      http.MethodGet,
		Path:        "/trash",
		Summary:     "Deleted history, most recent first",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.DeletedCard `json:"body"`
	}, error) {
		return &struct {
			Body []domain.DeletedCard `json:"body"`
		}{Body: e.Deleted()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-trash-entry",
		Method:      http.MethodDelete,
		Path:        "/trash/{deleted_id}",
		Summary:     "Permanently remove one history entry",
	}, func(ctx context.Context, input *struct {
		DeletedID string `path:"deleted_id"`
	}) (*struct {
		Body RemovedResponse `json:"body"`
	}, error) {
		return &struct {
			Body RemovedResponse `json:"body"`
		}{Body: RemovedResponse{Removed: e.PermanentlyRemove(ctx, input.DeletedID)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-trash",
		Method:      http.MethodDelete,
		Path:        "/trash",
		Summary:     "Clear the deleted history",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ClearedResponse `json:"body"`
	}, error) {
		return &struct {
			Body ClearedResponse `json:"body"`
		}{Body: ClearedResponse{Cleared: e.ClearAll(ctx)}}, nil
	})
}

func registerNotifications(api huma.API, c *notify.Center) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Live notifications, newest first",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: c.List()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dismiss-notification",
		Method:      http.MethodDelete,
		Path:        "/notifications/{id}",
		Summary:     "Dismiss a notification before it expires",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RemovedResponse `json:"body"`
	}, error) {
		return &struct {
			Body RemovedResponse `json:"body"`
		}{Body: RemovedResponse{Removed: c.Remove(input.ID)}}, nil
	})
}

func registerEvents(api huma.API, r *repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"card,trash,board"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if r == nil {
			return nil, newAPIError(http.StatusNotFound, "no_event_log", "this storage backend keeps no event log", nil)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := r.LatestEventsFrom(ctx, limit+1, cursorID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
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
