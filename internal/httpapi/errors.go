package httpapi

import (
	"errors"
	"net/http"

	"taxpilot.io/internal/audit"
	"taxpilot.io/internal/auth"
	"taxpilot.io/internal/obs"
)

func statusForKind(k auth.Kind) int {
	switch k {
	case auth.KindValidation:
		return http.StatusBadRequest
	case auth.KindUserExists:
		return http.StatusConflict
	case auth.KindInvalidCredentials, auth.KindInvalidAccessToken,
		auth.KindInvalidRefreshToken, auth.KindNotAuthenticated:
		return http.StatusUnauthorized
	case auth.KindInsufficientPermissions:
		return http.StatusForbidden
	case auth.KindUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body and counts it against op when op is set.
// Internal causes are logged, never returned.
func (a *API) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := auth.KindOf(err)
	code := statusForKind(kind)
	if op != "" {
		obs.RecordAuth(op, string(kind))
	}

	payload := map[string]any{"code": string(kind)}
	var ae *auth.Error
	if kind != auth.KindInternal && errors.As(err, &ae) {
		payload["error"] = ae.Message
		if len(ae.Fields) > 0 {
			payload["fields"] = ae.Fields
		}
	} else {
		payload["error"] = "internal error"
		a.log.WithError(err).WithField("request_id", audit.RequestIDFromContext(r.Context())).
			Error("request failed")
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// badBody reports an undecodable request as a validation failure.
func (a *API) badBody(w http.ResponseWriter, r *http.Request, op string, err error) {
	a.fail(w, r, op, auth.ValidationError(map[string]string{"body": err.Error()}))
}
