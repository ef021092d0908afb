package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Section names of the application catalogue.
const (
	SectionEstate         = "Estate"
	SectionMerchant       = "Merchant"
	SectionContract       = "Contract"
	SectionOperator       = "Operator"
	SectionReporting      = "Reporting"
	SectionFileProcessing = "File Processing"
	SectionPermissions    = "Permissions"
)

// Function names shared by several sections.
const (
	FunctionView   = "View"
	FunctionCreate = "Create"
	FunctionEdit   = "Edit"
	FunctionDelete = "Delete"
)

// SectionDefinition declares a section together with its functions.
type SectionDefinition struct {
	Section   ApplicationSection
	Functions []Function
}

// Catalogue is the closed (section, function) universe of the application.
// It is immutable once built.
type Catalogue struct {
	sections  []ApplicationSection
	functions []Function

	sectionByName  map[string]ApplicationSection
	sectionByID    map[int]ApplicationSection
	functionByName map[int]map[string]Function
	functionByID   map[int]Function
}

// NewCatalogue validates definitions and builds the lookup indexes.
func NewCatalogue(defs []SectionDefinition) (*Catalogue, error) {
	c := &Catalogue{
		sectionByName:  make(map[string]ApplicationSection, len(defs)),
		sectionByID:    make(map[int]ApplicationSection, len(defs)),
		functionByName: make(map[int]map[string]Function, len(defs)),
		functionByID:   make(map[int]Function),
	}
	for _, def := range defs {
		sec := def.Section
		sec.Name = strings.TrimSpace(sec.Name)
		if sec.ID <= 0 || sec.Name == "" {
			return nil, fmt.Errorf("rbac: catalogue section %d %q invalid", sec.ID, sec.Name)
		}
		if _, ok := c.sectionByID[sec.ID]; ok {
			return nil, fmt.Errorf("rbac: catalogue section id %d duplicated", sec.ID)
		}
		key := normalizeName(sec.Name)
		if _, ok := c.sectionByName[key]; ok {
			return nil, fmt.Errorf("rbac: catalogue section %q duplicated", sec.Name)
		}
		c.sectionByID[sec.ID] = sec
		c.sectionByName[key] = sec
		c.sections = append(c.sections, sec)

		byName := make(map[string]Function, len(def.Functions))
		for _, fn := range def.Functions {
			fn.Name = strings.TrimSpace(fn.Name)
			fn.SectionID = sec.ID
			if fn.ID <= 0 || fn.Name == "" {
				return nil, fmt.Errorf("rbac: catalogue function %d %q invalid", fn.ID, fn.Name)
			}
			if _, ok := c.functionByID[fn.ID]; ok {
				return nil, fmt.Errorf("rbac: catalogue function id %d duplicated", fn.ID)
			}
			fkey := normalizeName(fn.Name)
			if _, ok := byName[fkey]; ok {
				return nil, fmt.Errorf("rbac: function %q duplicated in section %q", fn.Name, sec.Name)
			}
			byName[fkey] = fn
			c.functionByID[fn.ID] = fn
			c.functions = append(c.functions, fn)
		}
		c.functionByName[sec.ID] = byName
	}
	sort.Slice(c.sections, func(i, j int) bool { return c.sections[i].ID < c.sections[j].ID })
	sort.Slice(c.functions, func(i, j int) bool { return c.functions[i].ID < c.functions[j].ID })
	return c, nil
}

// MustCatalogue is NewCatalogue for static definitions.
func MustCatalogue(defs []SectionDefinition) *Catalogue {
	c, err := NewCatalogue(defs)
	if err != nil {
		panic(err)
	}
	return c
}

// Sections returns the sections ordered by ID.
func (c *Catalogue) Sections() []ApplicationSection {
	out := make([]ApplicationSection, len(c.sections))
	copy(out, c.sections)
	return out
}

// Functions returns all functions ordered by ID.
func (c *Catalogue) Functions() []Function {
	out := make([]Function, len(c.functions))
	copy(out, c.functions)
	return out
}

// Section resolves a section by name.
func (c *Catalogue) Section(name string) (ApplicationSection, bool) {
	sec, ok := c.sectionByName[normalizeName(name)]
	return sec, ok
}

// SectionByID resolves a section by identifier.
func (c *Catalogue) SectionByID(id int) (ApplicationSection, bool) {
	sec, ok := c.sectionByID[id]
	return sec, ok
}

// FunctionByID resolves a function by identifier.
func (c *Catalogue) FunctionByID(id int) (Function, bool) {
	fn, ok := c.functionByID[id]
	return fn, ok
}

// Lookup resolves a (section, function) name pair to catalogue entries.
// It returns ErrSectionNotFound or ErrFunctionNotFound for unknown names.
func (c *Catalogue) Lookup(sectionName, functionName string) (ApplicationSection, Function, error) {
	sec, ok := c.Section(sectionName)
	if !ok {
		return ApplicationSection{}, Function{}, fmt.Errorf("%w: %q", ErrSectionNotFound, sectionName)
	}
	fn, ok := c.functionByName[sec.ID][normalizeName(functionName)]
	if !ok {
		return ApplicationSection{}, Function{}, fmt.Errorf("%w: %q in section %q", ErrFunctionNotFound, functionName, sec.Name)
	}
	return sec, fn, nil
}

// Contains reports whether the identifier pair is a catalogued cell.
func (c *Catalogue) Contains(sectionID, functionID int) bool {
	fn, ok := c.functionByID[functionID]
	return ok && fn.SectionID == sectionID
}

// Cells returns the number of catalogued (section, function) pairs.
func (c *Catalogue) Cells() int {
	return len(c.functions)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func crud(base int) []Function {
	return []Function{
		{ID: base + 1, Name: FunctionView},
		{ID: base + 2, Name: FunctionCreate},
		{ID: base + 3, Name: FunctionEdit},
		{ID: base + 4, Name: FunctionDelete},
	}
}

// DefaultCatalogue is the fixed section/function universe of the back office.
var DefaultCatalogue = MustCatalogue([]SectionDefinition{
	{
		Section: ApplicationSection{ID: 1, Name: SectionEstate},
		Functions: []Function{
			{ID: 101, Name: FunctionView},
			{ID: 102, Name: FunctionEdit},
		},
	},
	{
		Section: ApplicationSection{ID: 2, Name: SectionMerchant},
		Functions: append(crud(200),
			Function{ID: 205, Name: "Make Deposit"},
			Function{ID: 206, Name: "Assign Operator"},
			Function{ID: 207, Name: "Assign Contract"},
			Function{ID: 208, Name: "Add Device"},
		),
	},
	{
		Section: ApplicationSection{ID: 3, Name: SectionContract},
		Functions: append(crud(300),
			Function{ID: 305, Name: "Add Product"},
			Function{ID: 306, Name: "Add Transaction Fee"},
		),
	},
	{
		Section:   ApplicationSection{ID: 4, Name: SectionOperator},
		Functions: crud(400),
	},
	{
		Section: ApplicationSection{ID: 5, Name: SectionReporting},
		Functions: []Function{
			{ID: 501, Name: FunctionView},
			{ID: 502, Name: "Export"},
		},
	},
	{
		Section: ApplicationSection{ID: 6, Name: SectionFileProcessing},
		Functions: []Function{
			{ID: 601, Name: FunctionView},
			{ID: 602, Name: "Upload"},
		},
	},
	{
		Section: ApplicationSection{ID: 7, Name: SectionPermissions},
		Functions: []Function{
			{ID: 701, Name: FunctionView},
			{ID: 702, Name: FunctionEdit},
		},
	},
})
