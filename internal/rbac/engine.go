package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/estate-admin/backoffice/internal/observability"
)

// Authorizer answers permission checks.
type Authorizer interface {
	// DoIHavePermission returns nil when userName may perform functionName in
	// sectionName, ErrAccessDenied when not, and ErrInvalidSectionOrFunction
	// for names outside the catalogue. An empty functionName means "View".
	DoIHavePermission(userName, sectionName, functionName string) error
}

// SnapshotProvider exposes the current snapshot.
type SnapshotProvider interface {
	Snapshot() *Snapshot
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Bypass makes every catalogued check succeed. Local and test use only.
	Bypass  bool
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Engine evaluates checks against the cached snapshot without I/O.
type Engine struct {
	snapshots SnapshotProvider
	catalogue *Catalogue
	bypass    bool
	logger    *slog.Logger
	metrics   *observability.Metrics
}

var _ Authorizer = (*Engine)(nil)

// NewEngine wires an engine to a snapshot provider.
func NewEngine(snapshots SnapshotProvider, cat *Catalogue, opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		snapshots: snapshots,
		catalogue: cat,
		bypass:    opts.Bypass,
		logger:    logger,
		metrics:   opts.Metrics,
	}
}

// DoIHavePermission implements Authorizer.
func (e *Engine) DoIHavePermission(userName, sectionName, functionName string) error {
	if strings.TrimSpace(functionName) == "" {
		functionName = FunctionView
	}
	sec, fn, err := e.catalogue.Lookup(sectionName, functionName)
	if err != nil {
		e.metrics.IncPermissionCheck(observability.CheckInvalid)
		e.logger.Error("rbac check on uncatalogued cell",
			slog.String("section", sectionName),
			slog.String("function", functionName),
			slog.Any("error", err))
		return fmt.Errorf("%w: %s/%s", ErrInvalidSectionOrFunction, sectionName, functionName)
	}
	if e.bypass {
		e.metrics.IncPermissionCheck(observability.CheckBypassed)
		return nil
	}
	if e.snapshots.Snapshot().Allows(userName, sec.ID, fn.ID) {
		e.metrics.IncPermissionCheck(observability.CheckGranted)
		return nil
	}
	e.metrics.IncPermissionCheck(observability.CheckDenied)
	return ErrAccessDenied
}

// Allowed is DoIHavePermission collapsed to a bool for rendering decisions.
// Invalid cells are reported as not allowed after being logged.
func (e *Engine) Allowed(userName, sectionName, functionName string) bool {
	return e.DoIHavePermission(userName, sectionName, functionName) == nil
}

// IsDenied reports whether err is a plain access denial.
func IsDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
