package rbac

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estate-admin/backoffice/internal/observability"
)

func TestEngineDeniesByDefault(t *testing.T) {
	f := newFixture(t)

	err := f.engine.DoIHavePermission("alice", SectionEstate, FunctionView)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.True(t, IsDenied(err))
}

func TestEngineViewerScenario(t *testing.T) {
	f := newFixture(t)
	f.grantRole(t, "Viewer", [][2]string{{SectionEstate, FunctionView}}, "alice")

	assert.NoError(t, f.engine.DoIHavePermission("alice", SectionEstate, FunctionView))
	assert.NoError(t, f.engine.DoIHavePermission("ALICE", "estate", ""), "empty function means View")
	assert.ErrorIs(t, f.engine.DoIHavePermission("alice", SectionEstate, FunctionEdit), ErrAccessDenied)
	assert.ErrorIs(t, f.engine.DoIHavePermission("bob", SectionEstate, FunctionView), ErrAccessDenied)
}

func TestEngineUnionsRoles(t *testing.T) {
	f := newFixture(t)
	f.grantRole(t, "Viewer", [][2]string{{SectionMerchant, FunctionView}}, "bob")
	f.grantRole(t, "Depositor", [][2]string{{SectionMerchant, "Make Deposit"}}, "bob")

	assert.True(t, f.engine.Allowed("bob", SectionMerchant, FunctionView))
	assert.True(t, f.engine.Allowed("bob", SectionMerchant, "Make Deposit"))
	assert.False(t, f.engine.Allowed("bob", SectionMerchant, FunctionDelete))
}

func TestEngineRejectsUncataloguedCells(t *testing.T) {
	f := newFixture(t)
	f.grantRole(t, "Viewer", [][2]string{{SectionEstate, FunctionView}}, "alice")

	err := f.engine.DoIHavePermission("alice", "Payroll", FunctionView)
	require.ErrorIs(t, err, ErrInvalidSectionOrFunction)
	assert.False(t, IsDenied(err), "invalid cells are not denials")

	err = f.engine.DoIHavePermission("alice", SectionEstate, "Launch")
	assert.ErrorIs(t, err, ErrInvalidSectionOrFunction)
}

func TestEngineBypass(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.cache, DefaultCatalogue, EngineOptions{Bypass: true, Logger: discardLogger()})

	assert.NoError(t, engine.DoIHavePermission("anyone", SectionPermissions, FunctionEdit))
	assert.ErrorIs(t, engine.DoIHavePermission("anyone", "Payroll", FunctionView), ErrInvalidSectionOrFunction,
		"bypass still validates names")
}

func TestEngineRecordsOutcomes(t *testing.T) {
	f := newFixture(t)
	metrics := observability.NewMetrics()
	engine := NewEngine(f.cache, DefaultCatalogue, EngineOptions{Logger: discardLogger(), Metrics: metrics})
	f.grantRole(t, "Viewer", [][2]string{{SectionEstate, FunctionView}}, "alice")

	_ = engine.DoIHavePermission("alice", SectionEstate, FunctionView)
	_ = engine.DoIHavePermission("alice", SectionEstate, FunctionEdit)
	_ = engine.DoIHavePermission("alice", "Payroll", FunctionEdit)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, outcome := range []string{observability.CheckGranted, observability.CheckDenied, observability.CheckInvalid} {
		assert.True(t, strings.Contains(body, `backoffice_permission_checks_total{outcome="`+outcome+`"} 1`), outcome)
	}
}
