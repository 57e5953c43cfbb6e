package fiber

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/ApexAZ/zentropy-sub008/core"
)

func (a *Adapter) handleRegister(auth core.AuthProvider) func(*core.RequestContext) error {
	return func(ctx *core.RequestContext) error {
		fctx := ctx.Request.(fiber.Ctx)

		var input core.RegisterInput
		if err := fctx.Bind().Body(&input); err != nil {
			return badBody(fctx)
		}

		result, err := auth.Register(fctx.Context(), input, clientInfo(fctx))
		if err != nil {
			return writeError(fctx, err)
		}

		a.setSessionCookie(fctx, result.Token, auth.SessionTTL())
		return fctx.Status(http.StatusCreated).JSON(result)
	}
}

func (a *Adapter) handleLogin(auth core.AuthProvider) func(*core.RequestContext) error {
	return func(ctx *core.RequestContext) error {
		fctx := ctx.Request.(fiber.Ctx)

		var input core.LoginInput
		if err := fctx.Bind().Body(&input); err != nil {
			return badBody(fctx)
		}

		result, err := auth.Login(fctx.Context(), input, clientInfo(fctx))
		if err != nil {
			return writeError(fctx, err)
		}

		a.setSessionCookie(fctx, result.Token, auth.SessionTTL())
		return fctx.Status(http.StatusOK).JSON(result)
	}
}

// handleLogout always succeeds and always clears the cookie.
func (a *Adapter) handleLogout(auth core.AuthProvider) func(*core.RequestContext) error {
	return func(ctx *core.RequestContext) error {
		fctx := ctx.Request.(fiber.Ctx)

		auth.Logout(fctx.Context(), a.extractToken(fctx))

		a.clearSessionCookie(fctx)
		return fctx.Status(http.StatusOK).JSON(fiber.Map{"message": "logged out"})
	}
}

func (a *Adapter) handleGetSession(_ core.AuthProvider) func(*core.RequestContext) error {
	return func(ctx *core.RequestContext) error {
		fctx := ctx.Request.(fiber.Ctx)
		return fctx.Status(http.StatusOK).JSON(ctx.Session)
	}
}

func (a *Adapter) handleRefresh(auth core.AuthProvider) func(*core.RequestContext) error {
	return func(ctx *core.RequestContext) error {
		fctx := ctx.Request.(fiber.Ctx)
		token := a.extractToken(fctx)

		session, err := auth.Refresh(fctx.Context(), token)
		if err != nil {
			return writeError(fctx, err)
		}

		a.setSessionCookie(fctx, token, auth.SessionTTL())
		return fctx.Status(http.StatusOK).JSON(core.SessionData{Principal: ctx.Session.Principal, Session: session})
	}
}

func (a *Adapter) handleListSessions(auth core.AuthProvider) func(*core.RequestContext) error {
	return func(ctx *core.RequestContext) error {
		fctx := ctx.Request.(fiber.Ctx)

		sessions, err := auth.ListDevices(fctx.Context(), ctx.Session)
		if err != nil {
			return writeError(fctx, err)
		}

		current := ""
		if ctx.Session != nil && ctx.Session.Session != nil {
			current = ctx.Session.Session.ID
		}
		return fctx.Status(http.StatusOK).JSON(fiber.Map{
			"sessions": sessions,
			"current":  current,
		})
	}
}

func (a *Adapter) handleSignOutEverywhere(auth core.AuthProvider) func(*core.RequestContext) error {
	return func(ctx *core.RequestContext) error {
		fctx := ctx.Request.(fiber.Ctx)

		n, err := auth.SignOutEverywhere(fctx.Context(), ctx.Session)
		if err != nil {
			return writeError(fctx, err)
		}

		a.clearSessionCookie(fctx)
		return fctx.Status(http.StatusOK).JSON(fiber.Map{"signedOut": n})
	}
}

func (a *Adapter) handleChangePassword(auth core.AuthProvider) func(*core.RequestContext) error {
	return func(ctx *core.RequestContext) error {
		fctx := ctx.Request.(fiber.Ctx)

		var input core.ChangePasswordInput
		if err := fctx.Bind().Body(&input); err != nil {
			return badBody(fctx)
		}

		if err := auth.ChangePassword(fctx.Context(), ctx.Session, a.extractToken(fctx), input, clientInfo(fctx)); err != nil {
			return writeError(fctx, err)
		}

		return fctx.Status(http.StatusOK).JSON(fiber.Map{"message": "password updated"})
	}
}

func (a *Adapter) handleDeleteAccount(auth core.AuthProvider) func(*core.RequestContext) error {
	return func(ctx *core.RequestContext) error {
		fctx := ctx.Request.(fiber.Ctx)

		var input core.DeleteAccountInput
		if err := fctx.Bind().Body(&input); err != nil {
			return badBody(fctx)
		}

		if err := auth.DeleteAccount(fctx.Context(), ctx.Session, input); err != nil {
			return writeError(fctx, err)
		}

		a.clearSessionCookie(fctx)
		return fctx.Status(http.StatusOK).JSON(fiber.Map{"message": "account deleted"})
	}
}

// extractToken reads the session cookie, falling back to a Bearer token for
// API clients.
func (a *Adapter) extractToken(c fiber.Ctx) string {
	if token := c.Cookies(a.cookie.Name); token != "" {
		return token
	}

	authHeader := c.Get(fiber.HeaderAuthorization)
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

func (a *Adapter) setSessionCookie(c fiber.Ctx, token string, ttl time.Duration) {
	c.Cookie(&fiber.Cookie{
		Name:     a.cookie.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HTTPOnly: true,
		Secure:   a.cookie.Secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

// clearSessionCookie expires the cookie immediately. A negative MaxAge is
// written as "Max-Age=0"; a zero MaxAge would emit no attribute at all.
func (a *Adapter) clearSessionCookie(c fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     a.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   a.cookie.Secure,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
}

func clientInfo(c fiber.Ctx) core.ClientInfo {
	return core.ClientInfo{IP: c.IP(), UserAgent: c.Get(fiber.HeaderUserAgent)}
}

func badBody(c fiber.Ctx) error {
	return c.Status(http.StatusBadRequest).JSON(core.ErrorResponse{Error: "invalid request body"})
}
