package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/estate-admin/backoffice/internal/platform/httpx"
	"github.com/estate-admin/backoffice/internal/shared"
)

// AdminService is the administration surface used by Handler.
type AdminService interface {
	PermissionAdmin
	RemoveUsersFromRoles(ctx context.Context, assignments []UserRoleRequest) error
	GetRolePermissions(ctx context.Context, roleName string) (RolePermissions, error)
	ListRoles(ctx context.Context) ([]Role, error)
}

// Handler exposes the permission administration API as JSON.
type Handler struct {
	logger    *slog.Logger
	admin     AdminService
	authz     Authorizer
	catalogue *Catalogue
	rbac      Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, admin AdminService, authz Authorizer, cat *Catalogue) *Handler {
	return &Handler{
		logger:    logger,
		admin:     admin,
		authz:     authz,
		catalogue: cat,
		rbac:      Middleware{Authorizer: authz, Logger: logger},
	}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(SectionPermissions, FunctionView))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{roleName}", h.getRolePermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(SectionPermissions, FunctionEdit))
		r.Post("/roles", h.createRoles)
		r.Post("/roles/{roleName}/grants", h.replaceGrants)
		r.Post("/user-roles", h.addUsersToRoles)
		r.Delete("/user-roles", h.removeUsersFromRoles)
	})
	r.Get("/me/{sectionName}/{functionName}", h.checkSelf)
}

var errorMappings = []httpx.ErrorMapping{
	{Err: httpx.ErrBadRequest, Status: http.StatusBadRequest, Title: "Bad Request", Expose: true},
	{Err: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed", Expose: true},
	{Err: ErrSectionNotFound, Status: http.StatusBadRequest, Title: "Section Not Found", Expose: true},
	{Err: ErrFunctionNotFound, Status: http.StatusBadRequest, Title: "Function Not Found", Expose: true},
	{Err: ErrRoleNotFound, Status: http.StatusNotFound, Title: "Role Not Found", Expose: true},
	{Err: ErrAccessDenied, Status: http.StatusForbidden, Title: "Access Denied"},
	{Err: ErrInvalidSectionOrFunction, Status: http.StatusInternalServerError, Title: "Invalid Section Or Function", Expose: true},
	{Err: ErrStoreUnavailable, Status: http.StatusServiceUnavailable, Title: "Store Unavailable"},
	{Err: context.DeadlineExceeded, Status: http.StatusServiceUnavailable, Title: "Store Unavailable"},
}

type grantPayload struct {
	SectionID    int    `json:"sectionId"`
	FunctionID   int    `json:"functionId"`
	SectionName  string `json:"sectionName"`
	FunctionName string `json:"functionName"`
	HasAccess    bool   `json:"hasAccess"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.admin.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) createRoles(w http.ResponseWriter, r *http.Request) {
	var names []string
	if err := httpx.DecodeJSON(w, r, &names); err != nil {
		h.fail(w, r, err)
		return
	}
	roles, err := h.admin.CreateRoles(r.Context(), names)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, roles)
}

func (h *Handler) getRolePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.admin.GetRolePermissions(r.Context(), pathParam(r, "roleName"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) replaceGrants(w http.ResponseWriter, r *http.Request) {
	var payload []grantPayload
	if err := httpx.DecodeJSON(w, r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	grants, err := h.toGrantRequests(payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.admin.ReplaceRolePermissions(r.Context(), pathParam(r, "roleName"), grants); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addUsersToRoles(w http.ResponseWriter, r *http.Request) {
	var assignments []UserRoleRequest
	if err := httpx.DecodeJSON(w, r, &assignments); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.admin.AddUsersToRoles(r.Context(), assignments); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeUsersFromRoles(w http.ResponseWriter, r *http.Request) {
	var assignments []UserRoleRequest
	if err := httpx.DecodeJSON(w, r, &assignments); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.admin.RemoveUsersFromRoles(r.Context(), assignments); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) checkSelf(w http.ResponseWriter, r *http.Request) {
	user, ok := shared.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Access Denied", "")
		return
	}
	err := h.authz.DoIHavePermission(user, pathParam(r, "sectionName"), pathParam(r, "functionName"))
	if err != nil && !IsDenied(err) {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": err == nil})
}

// toGrantRequests accepts cells by identifier or by name; identifiers win.
func (h *Handler) toGrantRequests(payload []grantPayload) ([]GrantRequest, error) {
	grants := make([]GrantRequest, 0, len(payload))
	for _, p := range payload {
		g := GrantRequest{SectionName: p.SectionName, FunctionName: p.FunctionName, HasAccess: p.HasAccess}
		if p.SectionID != 0 {
			sec, ok := h.catalogue.SectionByID(p.SectionID)
			if !ok {
				return nil, fmt.Errorf("%w: id %d", ErrSectionNotFound, p.SectionID)
			}
			g.SectionName = sec.Name
		}
		if p.FunctionID != 0 {
			fn, ok := h.catalogue.FunctionByID(p.FunctionID)
			if !ok {
				return nil, fmt.Errorf("%w: id %d", ErrFunctionNotFound, p.FunctionID)
			}
			if sec, ok := h.catalogue.Section(g.SectionName); ok && sec.ID != fn.SectionID {
				return nil, fmt.Errorf("%w: id %d in section %q", ErrFunctionNotFound, p.FunctionID, sec.Name)
			}
			g.FunctionName = fn.Name
		}
		grants = append(grants, g)
	}
	return grants, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("rbac request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err, errorMappings)
}

// pathParam returns the decoded path parameter. chi matches against RawPath
// when it is set, so only then is the value still escaped.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v
	}
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}
