package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"taxpilot.io/internal/auth"
)

type grantFunc func(ctx context.Context, actorID, userID, name string) error

// grant adapts a service mutation to a route with {id} and the named variable.
func (a *API) grant(op, varName string, fn grantFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		actorID, _ := auth.UserIDFromContext(r.Context())
		if err := fn(r.Context(), actorID, vars["id"], vars[varName]); err != nil {
			a.fail(w, r, op, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	a.grant("assign_role", "role", a.auth.AssignRole)(w, r)
}

func (a *API) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	a.grant("revoke_role", "role", a.auth.RevokeRole)(w, r)
}

func (a *API) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	a.grant("grant_permission", "permission", a.auth.GrantPermission)(w, r)
}

func (a *API) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	a.grant("revoke_permission", "permission", a.auth.RevokePermission)(w, r)
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	prof, err := a.auth.GetUserWithPermissions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.fail(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":      prof.User.ID,
		"roles":       prof.User.Roles,
		"permissions": prof.Permissions,
	})
}
