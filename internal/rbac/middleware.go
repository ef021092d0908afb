package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/estate-admin/backoffice/internal/platform/httpx"
	"github.com/estate-admin/backoffice/internal/shared"
)

// Middleware gates HTTP handlers on a permission check. This is the
// enforcement boundary for commands; UI checks are advisory.
type Middleware struct {
	Authorizer Authorizer
	Logger     *slog.Logger
}

// Require ensures the current user may perform function in section.
func (m Middleware) Require(section, function string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := shared.UserFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusForbidden, "Access Denied", "")
				return
			}
			err := m.Authorizer.DoIHavePermission(user, section, function)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, ErrAccessDenied):
				httpx.Problem(w, http.StatusForbidden, "Access Denied", "")
			default:
				if m.Logger != nil {
					m.Logger.Error("rbac require", slog.String("section", section), slog.String("function", function), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			}
		})
	}
}
