package core

// HTTPAdapter binds the auth endpoints to a web framework.
type HTTPAdapter interface {
	RegisterRoutes(auth AuthProvider, endpoints []*Endpoint, basePath string) error
}
