// Package mapping implements the declarative payload mapping engine: a
// MappingDocument is compiled once into an immutable Plan of typed ops, and
// the Plan is applied to source messages to produce target messages.
//
// Compilation happens at publish time; invalid documents are rejected there
// and never applied. Application is deterministic: the same (plan, source,
// apply context) always yields the same tree.
package mapping

import (
	"fmt"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// ClauseType tags the mapping clause variants.
type ClauseType string

const (
	ClauseFieldMapping    ClauseType = "FIELD_MAPPING"
	ClauseValueAssignment ClauseType = "VALUE_ASSIGNMENT"
	ClauseDerivedValue    ClauseType = "DERIVED_VALUE"
	ClauseAutoGeneration  ClauseType = "AUTO_GENERATION"
	ClauseConditional     ClauseType = "CONDITIONAL"
	ClauseTransformation  ClauseType = "TRANSFORMATION"
	ClauseDefaultValue    ClauseType = "DEFAULT_VALUE"
)

// phase pins the fixed application order of clause types. Conditionals keep
// declaration order among themselves; everything else is grouped by phase.
var phase = map[ClauseType]int{
	ClauseFieldMapping:    0,
	ClauseValueAssignment: 1,
	ClauseDerivedValue:    2,
	ClauseAutoGeneration:  3,
	ClauseConditional:     4,
	ClauseTransformation:  5,
	ClauseDefaultValue:    6,
}

// GeneratorType selects the auto-generation strategy.
type GeneratorType string

const (
	GeneratorUUID       GeneratorType = "UUID"
	GeneratorTimestamp  GeneratorType = "TIMESTAMP"
	GeneratorSequential GeneratorType = "SEQUENTIAL"
)

// TransformFunction names the supported in-place transformations.
const (
	FnUppercase    = "uppercase"
	FnLowercase    = "lowercase"
	FnTrim         = "trim"
	FnPad          = "pad"
	FnSubstring    = "substring"
	FnRegexReplace = "regex-replace"
)

// Clause is one mapping rule. It is a tagged variant: Type selects which
// fields are meaningful. Unknown or missing fields for the selected type are
// rejected at compile time.
type Clause struct {
	Type ClauseType `json:"type" yaml:"type"`

	// FieldMapping: Source -> Target (both may carry one [] marker).
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Target is required by every clause type.
	Target string `json:"target" yaml:"target"`

	// ValueAssignment / Conditional / DefaultValue literal-or-template.
	// A string value containing ${...} placeholders is interpolated against
	// the source; any other value is written verbatim.
	Value interface{} `json:"value,omitempty" yaml:"value,omitempty"`

	// DerivedValue / Conditional expression over the source message.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	// Conditional predicate; must evaluate to a boolean.
	When string `json:"when,omitempty" yaml:"when,omitempty"`

	// AutoGeneration settings.
	Generator GeneratorType `json:"generator,omitempty" yaml:"generator,omitempty"`
	Prefix    string        `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Suffix    string        `json:"suffix,omitempty" yaml:"suffix,omitempty"`
	Length    int           `json:"length,omitempty" yaml:"length,omitempty"`

	// Transformation settings.
	Function string                 `json:"function,omitempty" yaml:"function,omitempty"`
	Args     map[string]interface{} `json:"args,omitempty" yaml:"args,omitempty"`
}

// Document is an ordered collection of mapping clauses plus the routing
// attributes the configuration resolver selects on.
type Document struct {
	Name       string                `json:"name" yaml:"name" validate:"required,max=128"`
	Coordinate core.PolicyCoordinate `json:"coordinate" yaml:"coordinate"`
	Direction  core.Direction        `json:"direction" yaml:"direction" validate:"required,oneof=REQUEST RESPONSE BIDIRECTIONAL"`
	Priority   int                   `json:"priority" yaml:"priority" validate:"min=1,max=100"`
	Active     bool                  `json:"active" yaml:"active"`
	Version    int                   `json:"version" yaml:"version" validate:"min=0"`
	Clauses    []Clause              `json:"clauses" yaml:"clauses" validate:"required,min=1"`
}

// Validate performs the shallow shape checks that do not need a full
// compile: name, priority range, direction, clause count. Deep checks
// (paths, expressions, generators) happen in Compile.
func (d *Document) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("mapping document: name is required")
	}
	if d.Priority < 1 || d.Priority > 100 {
		return fmt.Errorf("mapping document %q: priority %d outside [1,100]", d.Name, d.Priority)
	}
	switch d.Direction {
	case core.DirectionRequest, core.DirectionResponse, core.DirectionBidirectional:
	default:
		return fmt.Errorf("mapping document %q: invalid direction %q", d.Name, d.Direction)
	}
	if len(d.Clauses) == 0 {
		return fmt.Errorf("mapping document %q: no clauses", d.Name)
	}
	return nil
}
