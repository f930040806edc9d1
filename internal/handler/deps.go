package handler

import (
	"net/http"

	"github.com/rodrigopitanga/patchvec/internal/admission"
	"github.com/rodrigopitanga/patchvec/internal/auth"
	"github.com/rodrigopitanga/patchvec/internal/service"
)

// Deps bundles everything the handlers need.
type Deps struct {
	Svc  *service.Service
	Gate *admission.Gate

	Version         string
	InstanceName    string
	InstanceDesc    string
	VectorStoreType string
	AuthMode        string

	MaxFileSizeMB int

	CommonEnabled    bool
	CommonTenant     string
	CommonCollection string
}

func authFrom(r *http.Request) auth.Context {
	return auth.FromContext(r.Context())
}

// requestID resolves the effective request id: body value first, then the
// X-Request-ID header.
func requestID(r *http.Request, bodyValue string) string {
	if bodyValue != "" {
		return bodyValue
	}
	return r.Header.Get("X-Request-ID")
}
