package controller

import (
	"errors"
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"

	"github.com/proofofgood/engine/pkg/engine"
)

// writeJSON serializes v with the given status.
func (c *Controller) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.App.Logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps an engine error to a stable HTTP status and body.
// Foreign errors become opaque 500s so internals never leak.
func (c *Controller) writeError(w http.ResponseWriter, err error) {
	var engErr *engine.Error
	if !errors.As(err, &engErr) {
		c.App.Logger.Error("Unclassified error", zap.Error(err))
		c.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch engErr.Kind {
	case engine.KindValidation:
		status = http.StatusBadRequest
	case engine.KindAuthorization:
		status = http.StatusForbidden
	case engine.KindState:
		status = http.StatusConflict
		if engErr.Code == engine.CodeNotFound {
			status = http.StatusNotFound
		}
	case engine.KindConflict:
		status = http.StatusConflict
	case engine.KindConsistency:
		status = http.StatusInternalServerError
	case engine.KindExternal:
		status = http.StatusBadGateway
	}

	c.writeJSON(w, status, map[string]string{
		"error": engErr.Msg,
		"code":  engErr.Code,
		"kind":  engErr.Kind.String(),
	})
}

// decodeBody parses a JSON request body into dst.
func (c *Controller) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		c.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return false
	}
	return true
}
