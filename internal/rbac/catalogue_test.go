package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogueShape(t *testing.T) {
	sections := DefaultCatalogue.Sections()
	require.Len(t, sections, 7)
	assert.Equal(t, SectionEstate, sections[0].Name)
	assert.Equal(t, SectionPermissions, sections[6].Name)

	for _, fn := range DefaultCatalogue.Functions() {
		sec, ok := DefaultCatalogue.SectionByID(fn.SectionID)
		require.True(t, ok, "function %d has no section", fn.ID)
		assert.Equal(t, sec.ID, fn.ID/100, "function %d numbered outside section %d", fn.ID, sec.ID)
	}
	assert.Equal(t, len(DefaultCatalogue.Functions()), DefaultCatalogue.Cells())
}

func TestCatalogueLookup(t *testing.T) {
	sec, fn, err := DefaultCatalogue.Lookup("merchant", " make deposit ")
	require.NoError(t, err)
	assert.Equal(t, 2, sec.ID)
	assert.Equal(t, 205, fn.ID)
	assert.Equal(t, sec.ID, fn.SectionID)

	_, _, err = DefaultCatalogue.Lookup("Payroll", FunctionView)
	assert.ErrorIs(t, err, ErrSectionNotFound)

	_, _, err = DefaultCatalogue.Lookup(SectionEstate, FunctionDelete)
	assert.ErrorIs(t, err, ErrFunctionNotFound, "Estate has no Delete")

	_, _, err = DefaultCatalogue.Lookup(SectionEstate, "Make Deposit")
	assert.ErrorIs(t, err, ErrFunctionNotFound, "functions belong to one section")
}

func TestCatalogueContains(t *testing.T) {
	assert.True(t, DefaultCatalogue.Contains(1, 101))
	assert.False(t, DefaultCatalogue.Contains(2, 101))
	assert.False(t, DefaultCatalogue.Contains(1, 999))
}

func TestNewCatalogueRejectsBadDefinitions(t *testing.T) {
	cases := map[string][]SectionDefinition{
		"duplicate section id": {
			{Section: ApplicationSection{ID: 1, Name: "A"}},
			{Section: ApplicationSection{ID: 1, Name: "B"}},
		},
		"duplicate section name": {
			{Section: ApplicationSection{ID: 1, Name: "A"}},
			{Section: ApplicationSection{ID: 2, Name: " a "}},
		},
		"duplicate function id": {
			{Section: ApplicationSection{ID: 1, Name: "A"}, Functions: []Function{{ID: 10, Name: "View"}}},
			{Section: ApplicationSection{ID: 2, Name: "B"}, Functions: []Function{{ID: 10, Name: "View"}}},
		},
		"duplicate function name": {
			{Section: ApplicationSection{ID: 1, Name: "A"}, Functions: []Function{{ID: 10, Name: "View"}, {ID: 11, Name: "view"}}},
		},
		"empty name": {
			{Section: ApplicationSection{ID: 1, Name: ""}},
		},
		"zero id": {
			{Section: ApplicationSection{ID: 0, Name: "A"}},
		},
	}
	for name, defs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewCatalogue(defs)
			assert.Error(t, err)
		})
	}
}

func TestMustCataloguePanics(t *testing.T) {
	assert.Panics(t, func() {
		MustCatalogue([]SectionDefinition{{Section: ApplicationSection{ID: 1}}})
	})
}
