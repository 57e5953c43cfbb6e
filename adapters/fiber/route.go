package fiber

import (
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/ApexAZ/zentropy-sub008/core"
	"github.com/ApexAZ/zentropy-sub008/services"
)

type Adapter struct {
	app    *fiber.App
	cookie core.CookieConfig
}

var _ core.HTTPAdapter = (*Adapter)(nil)

func New(app *fiber.App, cookie core.CookieConfig) *Adapter {
	if cookie.Name == "" {
		cookie.Name = core.DefaultCookieName
	}
	return &Adapter{app: app, cookie: cookie}
}

// handlerFactories binds base endpoints to their fiber handlers by OperationID.
var handlerFactories = map[string]func(*Adapter, core.AuthProvider) func(*core.RequestContext) error{
	services.OpRegister:          (*Adapter).handleRegister,
	services.OpLogin:             (*Adapter).handleLogin,
	services.OpLogout:            (*Adapter).handleLogout,
	services.OpGetSession:        (*Adapter).handleGetSession,
	services.OpRefreshSession:    (*Adapter).handleRefresh,
	services.OpListSessions:      (*Adapter).handleListSessions,
	services.OpSignOutEverywhere: (*Adapter).handleSignOutEverywhere,
	services.OpChangePassword:    (*Adapter).handleChangePassword,
	services.OpDeleteAccount:     (*Adapter).handleDeleteAccount,
}

// RegisterRoutes mounts endpoints under basePath. Routes sit behind the
// general-API limiter unless marked Unthrottled, so logout always reaches
// its handler. Protected routes also require a usable session. Endpoints
// that carry their own Handler are mounted as-is.
func (a *Adapter) RegisterRoutes(auth core.AuthProvider, endpoints []*core.Endpoint, basePath string) error {
	handlers := make([]fiber.Handler, 0, len(endpoints))
	for _, ep := range endpoints {
		handler := ep.Handler
		if handler == nil {
			factory, ok := handlerFactories[ep.Metadata.OperationID]
			if !ok {
				return fmt.Errorf("no fiber handler for %s %s (operation %q)", ep.Method, ep.Path, ep.Metadata.OperationID)
			}
			handler = factory(a, auth)
		}
		handlers = append(handlers, bind(auth, handler))
	}

	api := a.app.Group(basePath)
	limit := a.rateLimit(auth)
	admit := a.requireAuth(auth)

	for i, ep := range endpoints {
		methods := []string{ep.Method}
		switch meta := ep.Metadata; {
		case meta.Unthrottled && meta.Protected:
			api.Add(methods, ep.Path, admit, handlers[i])
		case meta.Unthrottled:
			api.Add(methods, ep.Path, handlers[i])
		case meta.Protected:
			api.Add(methods, ep.Path, limit, admit, handlers[i])
		default:
			api.Add(methods, ep.Path, limit, handlers[i])
		}
	}

	return nil
}

// bind adapts a framework-agnostic handler to fiber.
func bind(auth core.AuthProvider, handler func(*core.RequestContext) error) fiber.Handler {
	return func(c fiber.Ctx) error {
		return handler(&core.RequestContext{
			Request: c,
			Auth:    auth,
			Session: SessionFrom(c),
		})
	}
}
