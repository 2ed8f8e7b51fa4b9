// Package hits defines the hit data model: the typed attribute schema chosen at
// configuration time, the immutable hit record, and the arrow-backed columnar
// table hits accumulate into.
//
// A schema is fixed for the lifetime of a simulation. Every worker builds its
// table from the same *Schema value, and Table.Append is the single place where
// a record is checked against it.
package hits

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajitpratap0/gatehits/pkg/errors"
)

// AttributeType is the column type of a hit attribute.
type AttributeType string

const (
	// TypeNumber is a scalar float64 (energies, times, weights)
	TypeNumber AttributeType = "number"
	// TypeVector3 is three float64 components (positions, directions)
	TypeVector3 AttributeType = "vector3"
	// TypeString is a UTF-8 string (particle, volume and process names)
	TypeString AttributeType = "string"
	// TypeInteger is an int64 identifier (track, event, run ids)
	TypeInteger AttributeType = "integer"
)

// metadataTypeKey stores the attribute type on each arrow field so a schema can be
// recovered from a written table.
const metadataTypeKey = "gatehits.type"

// ParseAttributeType accepts the canonical names plus the single-letter codes
// used by Geant4 style attribute managers (D, 3, S, I).
func ParseAttributeType(s string) (AttributeType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "number", "double", "float", "d":
		return TypeNumber, nil
	case "vector3", "vec3", "threevector", "3":
		return TypeVector3, nil
	case "string", "s":
		return TypeString, nil
	case "integer", "int", "id", "i":
		return TypeInteger, nil
	default:
		return "", fmt.Errorf("unknown attribute type %q", s)
	}
}

// ArrowType returns the arrow data type the attribute is stored as.
func (t AttributeType) ArrowType() arrow.DataType {
	switch t {
	case TypeNumber:
		return arrow.PrimitiveTypes.Float64
	case TypeVector3:
		return arrow.FixedSizeListOf(3, arrow.PrimitiveTypes.Float64)
	case TypeString:
		return arrow.BinaryTypes.String
	case TypeInteger:
		return arrow.PrimitiveTypes.Int64
	default:
		return nil
	}
}

// Attribute is one named, typed column.
type Attribute struct {
	Name string        `yaml:"name" json:"name"`
	Type AttributeType `yaml:"type" json:"type"`
}

// Schema is an ordered, immutable list of attributes.
type Schema struct {
	attrs []Attribute
	index map[string]int
	arrow *arrow.Schema
}

// NewSchema validates attrs and builds a schema. Names must be non-empty and
// unique, and every type must be one of the four supported column types.
func NewSchema(attrs ...Attribute) (*Schema, error) {
	if len(attrs) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "hit schema has no attributes").
			WithStage(errors.StageConfiguration)
	}

	s := &Schema{
		attrs: make([]Attribute, len(attrs)),
		index: make(map[string]int, len(attrs)),
	}
	fields := make([]arrow.Field, len(attrs))

	for i, a := range attrs {
		if strings.TrimSpace(a.Name) == "" {
			return nil, errors.Newf(errors.ErrorTypeConfig, "hit attribute %d has an empty name", i).
				WithStage(errors.StageConfiguration)
		}
		if _, dup := s.index[a.Name]; dup {
			return nil, errors.Newf(errors.ErrorTypeConfig, "hit attribute %q declared twice", a.Name).
				WithStage(errors.StageConfiguration)
		}
		dt := a.Type.ArrowType()
		if dt == nil {
			return nil, errors.Newf(errors.ErrorTypeConfig, "hit attribute %q has unsupported type %q", a.Name, a.Type).
				WithStage(errors.StageConfiguration)
		}
		s.attrs[i] = a
		s.index[a.Name] = i
		fields[i] = arrow.Field{
			Name:     a.Name,
			Type:     dt,
			Nullable: false,
			Metadata: arrow.NewMetadata([]string{metadataTypeKey}, []string{string(a.Type)}),
		}
	}

	s.arrow = arrow.NewSchema(fields, nil)
	return s, nil
}

// MustSchema is NewSchema for statically known attribute lists; it panics on error.
func MustSchema(attrs ...Attribute) *Schema {
	s, err := NewSchema(attrs...)
	if err != nil {
		panic(err)
	}
	return s
}

// SchemaFromArrow recovers a hit schema from an arrow schema written by this package.
func SchemaFromArrow(as *arrow.Schema) (*Schema, error) {
	attrs := make([]Attribute, 0, as.NumFields())
	for _, f := range as.Fields() {
		var t AttributeType
		if idx := f.Metadata.FindKey(metadataTypeKey); idx >= 0 {
			t = AttributeType(f.Metadata.Values()[idx])
		} else {
			t = typeFromArrow(f.Type)
		}
		if t == "" {
			return nil, errors.Newf(errors.ErrorTypeData, "column %q has unsupported arrow type %s", f.Name, f.Type)
		}
		attrs = append(attrs, Attribute{Name: f.Name, Type: t})
	}
	return NewSchema(attrs...)
}

func typeFromArrow(dt arrow.DataType) AttributeType {
	switch dt.ID() {
	case arrow.FLOAT64:
		return TypeNumber
	case arrow.INT64:
		return TypeInteger
	case arrow.STRING:
		return TypeString
	case arrow.FIXED_SIZE_LIST:
		if l, ok := dt.(*arrow.FixedSizeListType); ok && l.Len() == 3 && l.Elem().ID() == arrow.FLOAT64 {
			return TypeVector3
		}
	case arrow.LIST:
		if l, ok := dt.(*arrow.ListType); ok && l.Elem().ID() == arrow.FLOAT64 {
			return TypeVector3
		}
	}
	return ""
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.attrs) }

// Attribute returns the i-th attribute.
func (s *Schema) Attribute(i int) Attribute { return s.attrs[i] }

// Attributes returns a copy of the ordered attribute list.
func (s *Schema) Attributes() []Attribute {
	out := make([]Attribute, len(s.attrs))
	copy(out, s.attrs)
	return out
}

// Names returns the column names in schema order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.attrs))
	for i, a := range s.attrs {
		out[i] = a.Name
	}
	return out
}

// Index returns the column position of name.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Arrow returns the arrow schema tables are built with.
func (s *Schema) Arrow() *arrow.Schema { return s.arrow }

// Equal reports whether both schemas have the same attributes in the same order.
func (s *Schema) Equal(other *Schema) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil || len(s.attrs) != len(other.attrs) {
		return false
	}
	for i := range s.attrs {
		if s.attrs[i] != other.attrs[i] {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	parts := make([]string, len(s.attrs))
	for i, a := range s.attrs {
		parts[i] = a.Name + ":" + string(a.Type)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
