package services

import (
	"fmt"
	"sort"

	"github.com/ApexAZ/zentropy-sub008/core"
)

// Operation IDs adapters bind their handlers to.
const (
	OpRegister          = "registerWithEmailAndPassword"
	OpLogin             = "loginWithEmailAndPassword"
	OpLogout            = "logout"
	OpGetSession        = "getSession"
	OpRefreshSession    = "refreshSession"
	OpListSessions      = "listSessions"
	OpSignOutEverywhere = "signOutEverywhere"
	OpChangePassword    = "changePassword"
	OpDeleteAccount     = "deleteAccount"
)

// BaseEndpoints returns the framework-agnostic auth endpoints. Handlers are
// nil; adapters supply them by OperationID.
func BaseEndpoints() []core.Endpoint {
	return []core.Endpoint{
		{
			Path:   "/register",
			Method: "POST",
			Metadata: core.EndpointMetadata{
				OperationID: OpRegister,
				Description: "Create an account and sign it in",
			},
		},
		{
			Path:   "/login",
			Method: "POST",
			Metadata: core.EndpointMetadata{
				OperationID: OpLogin,
				Description: "Sign in with email and password",
			},
		},
		{
			Path:   "/logout",
			Method: "POST",
			Metadata: core.EndpointMetadata{
				OperationID: OpLogout,
				Description: "Invalidate the current session and clear the cookie",
				Unthrottled: true,
			},
		},
		{
			Path:   "/session",
			Method: "GET",
			Metadata: core.EndpointMetadata{
				OperationID: OpGetSession,
				Description: "Get the signed-in principal and session",
				Protected:   true,
			},
		},
		{
			Path:   "/session/refresh",
			Method: "POST",
			Metadata: core.EndpointMetadata{
				OperationID: OpRefreshSession,
				Description: "Extend the current session by the configured lifetime",
				Protected:   true,
			},
		},
		{
			Path:   "/sessions",
			Method: "GET",
			Metadata: core.EndpointMetadata{
				OperationID: OpListSessions,
				Description: "List the caller's active sessions",
				Protected:   true,
			},
		},
		{
			Path:   "/sessions",
			Method: "DELETE",
			Metadata: core.EndpointMetadata{
				OperationID: OpSignOutEverywhere,
				Description: "Invalidate every session of the caller",
				Protected:   true,
			},
		},
		{
			Path:   "/password",
			Method: "POST",
			Metadata: core.EndpointMetadata{
				OperationID: OpChangePassword,
				Description: "Change the caller's password",
				Protected:   true,
			},
		},
		{
			Path:   "/account",
			Method: "DELETE",
			Metadata: core.EndpointMetadata{
				OperationID: OpDeleteAccount,
				Description: "Delete the caller's account after re-verifying the password",
				Protected:   true,
			},
		},
	}
}

// EndpointRegistry holds endpoints keyed by METHOD:PATH and rejects duplicates.
type EndpointRegistry struct {
	endpoints map[string]*core.Endpoint
}

// NewEndpointRegistry creates a registry with the base endpoints registered.
func NewEndpointRegistry() *EndpointRegistry {
	reg := &EndpointRegistry{endpoints: make(map[string]*core.Endpoint)}

	base := BaseEndpoints()
	for i := range base {
		reg.endpoints[endpointKey(&base[i])] = &base[i]
	}
	return reg
}

// RegisterPlugin adds endpoints from a plugin. Either all of them are
// registered or, on any conflict, none are.
func (r *EndpointRegistry) RegisterPlugin(endpoints []core.Endpoint) error {
	seen := make(map[string]bool, len(endpoints))
	for i := range endpoints {
		ep := &endpoints[i]
		key := endpointKey(ep)

		if _, exists := r.endpoints[key]; exists {
			return fmt.Errorf("plugin endpoint conflict: %s %s already registered", ep.Method, ep.Path)
		}
		if seen[key] {
			return fmt.Errorf("plugin contains duplicate endpoint: %s %s", ep.Method, ep.Path)
		}
		seen[key] = true
	}

	for i := range endpoints {
		r.endpoints[endpointKey(&endpoints[i])] = &endpoints[i]
	}
	return nil
}

// Endpoints returns every registered endpoint ordered by path then method.
func (r *EndpointRegistry) Endpoints() []*core.Endpoint {
	result := make([]*core.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		result = append(result, ep)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Path != result[j].Path {
			return result[i].Path < result[j].Path
		}
		return result[i].Method < result[j].Method
	})
	return result
}

func endpointKey(ep *core.Endpoint) string {
	return ep.Method + ":" + ep.Path
}
