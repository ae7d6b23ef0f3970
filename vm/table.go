package vm

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/quill-lang/quill/errs"
)

type TableColumn struct {
	Name string
	Fn   Lambda
}

// Table is a list of rows plus the columns that compute a cell from a row.
// Cells are computed by whoever renders the table, not at construction.
type Table struct {
	tagged
	Data    []Value
	Columns []TableColumn
}

func NewTable(data []Value, columns []TableColumn) (*Table, error) {
	for i, c := range columns {
		if !slices.Contains(c.Fn.ParameterCounts(), 1) {
			return nil, errs.Raise(errs.OtherError, "Table column %d (%s) must take one argument, accepts %s", i+1, c.Name, arities(c.Fn))
		}
	}
	return &Table{Data: data, Columns: columns}, nil
}

func (*Table) Kind() Kind { return TableKind }
func (*Table) isValue()   {}

func (t *Table) WithTags(tags *Tags) Value {
	c := *t
	c.tags = tags
	return &c
}

func (t *Table) String() string {
	return fmt.Sprintf("Table(%d rows, %d columns)", len(t.Data), len(t.Columns))
}

type CalculatorInput struct {
	Name    string
	Default Value
}

// Calculator is a function packaged with named inputs for interactive use.
// SampleCount 0 means the environment default.
type Calculator struct {
	tagged
	Fn          Lambda
	Title       string
	Description string
	Inputs      []CalculatorInput
	Autorun     bool
	SampleCount int
}

// Validate checks that Fn can be called with one argument per input.
func (c *Calculator) Validate() error {
	if !slices.Contains(c.Fn.ParameterCounts(), len(c.Inputs)) {
		return errs.Raise(errs.OtherError, "Calculator function accepts %s arguments, but %d inputs were given", arities(c.Fn), len(c.Inputs))
	}
	if c.SampleCount < 0 {
		return errs.Raise(errs.DomainViolation, "Calculator sample count must not be negative, got %d", c.SampleCount)
	}
	return nil
}

func (*Calculator) Kind() Kind { return CalculatorKind }
func (*Calculator) isValue()   {}

func (c *Calculator) WithTags(tags *Tags) Value {
	cc := *c
	cc.tags = tags
	return &cc
}

func (c *Calculator) String() string {
	name := c.Title
	if name == "" {
		name = c.Fn.LambdaName()
	}
	return fmt.Sprintf("Calculator(%s, %d inputs)", name, len(c.Inputs))
}

func arities(fn Lambda) string {
	counts := fn.ParameterCounts()
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = strconv.Itoa(c)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
