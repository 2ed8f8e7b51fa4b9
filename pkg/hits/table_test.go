package hits

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gatehits/pkg/errors"
)

func energyPositionSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(
		Attribute{Name: "energy", Type: TypeNumber},
		Attribute{Name: "position", Type: TypeVector3},
	)
	require.NoError(t, err)
	return s
}

func TestNewSchemaRejectsBadAttributes(t *testing.T) {
	tests := []struct {
		name  string
		attrs []Attribute
	}{
		{"empty", nil},
		{"empty name", []Attribute{{Name: " ", Type: TypeNumber}}},
		{"duplicate", []Attribute{{Name: "e", Type: TypeNumber}, {Name: "e", Type: TypeString}}},
		{"bad type", []Attribute{{Name: "e", Type: "complex"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchema(tt.attrs...)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestResolveSchema(t *testing.T) {
	s, err := ResolveSchema(
		[]string{"TotalEnergyDeposit", "PostPosition", "TrackID", "ParticleName", "detector"},
		map[string]AttributeType{"detector": TypeString},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"TotalEnergyDeposit", "PostPosition", "TrackID", "ParticleName", "detector"}, s.Names())
	assert.Equal(t, TypeVector3, s.Attribute(1).Type)
	assert.Equal(t, TypeInteger, s.Attribute(2).Type)

	_, err = ResolveSchema([]string{"NotAnAttribute"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = ResolveSchema(nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestParseAttributeType(t *testing.T) {
	for in, want := range map[string]AttributeType{"D": TypeNumber, "3": TypeVector3, "S": TypeString, "I": TypeInteger, "vector3": TypeVector3} {
		got, err := ParseAttributeType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAttributeType("matrix")
	assert.Error(t, err)
}

func TestTableAppendAndFlush(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	table := NewTable(energyPositionSchema(t), mem)
	defer table.Release()

	require.NoError(t, table.Append(NewRecord(F("energy", 1.5), F("position", Vec3{1, 2, 3}))))
	// attribute order in the record does not matter, only the set
	require.NoError(t, table.Append(NewRecord(F("position", []float64{4, 5, 6}), F("energy", 2))))
	assert.Equal(t, 2, table.Rows())

	rec := table.Flush()
	defer rec.Release()
	assert.Equal(t, 0, table.Rows())
	require.EqualValues(t, 2, rec.NumRows())

	rows := Rows(rec)
	assert.Equal(t, 1.5, rows[0].Field(0).Value)
	assert.Equal(t, Vec3{1, 2, 3}, rows[0].Field(1).Value)
	assert.Equal(t, 2.0, rows[1].Field(0).Value)
	assert.Equal(t, Vec3{4, 5, 6}, rows[1].Field(1).Value)

	empty := table.Flush()
	defer empty.Release()
	assert.EqualValues(t, 0, empty.NumRows())
}

func TestTableSchemaMismatch(t *testing.T) {
	table := NewTable(energyPositionSchema(t), nil)
	defer table.Release()

	bad := []Record{
		NewRecord(F("energy", 1.0)),
		NewRecord(F("energy", 1.0), F("momentum", Vec3{})),
		NewRecord(F("energy", 1.0), F("energy", 2.0)),
		NewRecord(F("energy", "high"), F("position", Vec3{})),
		NewRecord(F("energy", 1.0), F("position", []float64{1, 2})),
		NewRecord(F("energy", 1.0), F("position", Vec3{}), F("time", 3.0)),
	}

	// mismatch is reported regardless of fill state
	for fill := 0; fill < 3; fill++ {
		for _, rec := range bad {
			err := table.Append(rec)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))
			var e *errors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, errors.StageAppend, e.Stage())
		}
		assert.Equal(t, fill, table.Rows())
		require.NoError(t, table.Append(NewRecord(F("energy", 1.0), F("position", Vec3{}))))
	}
}

func TestSchemaFromArrowRoundTrip(t *testing.T) {
	s := MustSchema(
		Attribute{Name: "e", Type: TypeNumber},
		Attribute{Name: "p", Type: TypeVector3},
		Attribute{Name: "n", Type: TypeString},
		Attribute{Name: "id", Type: TypeInteger},
	)
	back, err := SchemaFromArrow(s.Arrow())
	require.NoError(t, err)
	assert.True(t, s.Equal(back))
}

func BenchmarkTableAppend(b *testing.B) {
	s := MustSchema(
		Attribute{Name: "TotalEnergyDeposit", Type: TypeNumber},
		Attribute{Name: "PostPosition", Type: TypeVector3},
		Attribute{Name: "TrackID", Type: TypeInteger},
	)
	table := NewTable(s, nil)
	defer table.Release()
	fields := []Field{F("TotalEnergyDeposit", 0.511), F("PostPosition", Vec3{1, 2, 3}), F("TrackID", 7)}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := table.Append(RecordFromFields(fields)); err != nil {
			b.Fatal(err)
		}
		if table.Rows() == 65536 {
			table.Flush().Release()
		}
	}
}
