package fiber

import (
	"github.com/gofiber/fiber/v3"

	"github.com/ApexAZ/zentropy-sub008/core"
)

const (
	LocalsPrincipal = "principal"
	LocalsSession   = "session"
	localsData      = "zentropy.session_data"
)

// Protected returns middleware host applications can put in front of their
// own routes. It admits requests carrying a usable session and stores the
// principal and session in c.Locals.
func (a *Adapter) Protected(auth core.AuthProvider) fiber.Handler {
	return a.requireAuth(auth)
}

func (a *Adapter) requireAuth(auth core.AuthProvider) fiber.Handler {
	return func(c fiber.Ctx) error {
		data, err := auth.Authenticate(c.Context(), a.extractToken(c))
		if err != nil {
			return writeError(c, err)
		}

		c.Locals(localsData, data)
		c.Locals(LocalsPrincipal, data.Principal)
		c.Locals(LocalsSession, data.Session)

		return c.Next()
	}
}

// rateLimit applies the per-address general API ceiling.
func (a *Adapter) rateLimit(auth core.AuthProvider) fiber.Handler {
	return func(c fiber.Ctx) error {
		if err := auth.CheckRequest(c.Context(), clientInfo(c)); err != nil {
			return writeError(c, err)
		}
		return c.Next()
	}
}

// SessionFrom returns what requireAuth stored for this request, or nil.
func SessionFrom(c fiber.Ctx) *core.SessionData {
	data, _ := c.Locals(localsData).(*core.SessionData)
	return data
}
