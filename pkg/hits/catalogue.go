package hits

import (
	"sort"

	"github.com/ajitpratap0/gatehits/pkg/errors"
)

// catalogue lists the hit attributes a transport engine step can report, keyed
// by the names users put in hit_attribute_names.
var catalogue = map[string]AttributeType{
	// energies
	"TotalEnergyDeposit":       TypeNumber,
	"PostKineticEnergy":        TypeNumber,
	"PreKineticEnergy":         TypeNumber,
	"KineticEnergy":            TypeNumber,
	"TrackVertexKineticEnergy": TypeNumber,

	// positions and directions
	"PostPosition":                 TypeVector3,
	"PrePosition":                  TypeVector3,
	"PostDirection":                TypeVector3,
	"PreDirection":                 TypeVector3,
	"TrackVertexPosition":          TypeVector3,
	"TrackVertexMomentumDirection": TypeVector3,

	// times and weights
	"GlobalTime":           TypeNumber,
	"LocalTime":            TypeNumber,
	"TimeFromBeginOfEvent": TypeNumber,
	"Weight":               TypeNumber,
	"StepLength":           TypeNumber,

	// identifiers
	"TrackID":           TypeInteger,
	"ParentID":          TypeInteger,
	"EventID":           TypeInteger,
	"RunID":             TypeInteger,
	"ThreadID":          TypeInteger,
	"TrackVolumeCopyNo": TypeInteger,
	"PDGCode":           TypeInteger,

	// names
	"ParticleName":        TypeString,
	"ProcessDefinedStep":  TypeString,
	"TrackCreatorProcess": TypeString,
	"TrackVolumeName":     TypeString,
	"PreStepVolumeName":   TypeString,
	"PostStepVolumeName":  TypeString,
}

// LookupAttribute returns the catalogue type of a well-known attribute.
func LookupAttribute(name string) (AttributeType, bool) {
	t, ok := catalogue[name]
	return t, ok
}

// CatalogueNames returns every well-known attribute name, sorted.
func CatalogueNames() []string {
	names := make([]string, 0, len(catalogue))
	for n := range catalogue {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ResolveSchema builds a schema from configured attribute names. Custom
// declarations take precedence over the catalogue; a name found in neither is a
// configuration error.
func ResolveSchema(names []string, custom map[string]AttributeType) (*Schema, error) {
	if len(names) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "hit_attribute_names is empty").
			WithStage(errors.StageConfiguration)
	}

	attrs := make([]Attribute, 0, len(names))
	for _, n := range names {
		t, ok := custom[n]
		if !ok {
			t, ok = catalogue[n]
		}
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "unknown hit attribute %q", n).
				WithStage(errors.StageConfiguration).
				WithDetail("hint", "declare it under custom_attributes with an explicit type")
		}
		attrs = append(attrs, Attribute{Name: n, Type: t})
	}
	return NewSchema(attrs...)
}
