package compiler

import (
	"os"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/ir"
)

const gearsOfWarModel = "../../testdata/gearsofwar/model.cue"

func compileString(t *testing.T, src string) (*ir.ModelSpec, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileModel(v)
}

func TestCompileModelBasic(t *testing.T) {
	spec, err := compileString(t, `
		entity: City: {
			table: "Cities"
			key: ["Name"]
			properties: {
				Name:     "string"
				Location: "string?"
				Population: {type: "int", column: "population_count"}
			}
		}
	`)
	require.NoError(t, err)
	require.Len(t, spec.Entities, 1)

	city := spec.Entities[0]
	assert.Equal(t, "City", city.Name)
	assert.Equal(t, "Cities", city.Table)
	assert.Equal(t, []string{"Name"}, city.Key)
	require.Len(t, city.Properties, 3)
	assert.Equal(t, ir.PropertySpec{Name: "Name", Type: ir.KindString}, city.Properties[0])
	assert.Equal(t, ir.PropertySpec{Name: "Location", Type: ir.KindString, Nullable: true}, city.Properties[1])
	assert.Equal(t, "population_count", city.Properties[2].ColumnName())
}

func TestCompileModelDefaultsTableToName(t *testing.T) {
	spec, err := compileString(t, `
		entity: Squad: {
			key: ["Id"]
			properties: Id: "int"
		}
	`)
	require.NoError(t, err)
	assert.Equal(t, "Squad", spec.Entities[0].Table)
}

func TestCompileModelNavigations(t *testing.T) {
	spec, err := compileString(t, `
		entity: Squad: {
			key: ["Id"]
			properties: Id: "int"
			navigations: Members: {target: "Gear", collection: true, foreign_key: ["SquadId"], inverse: "Squad"}
		}
		entity: Gear: {
			key: ["Nickname", "SquadId"]
			properties: {
				Nickname: "string"
				SquadId:  "int"
			}
			navigations: Squad: {target: "Squad", foreign_key: ["SquadId"], inverse: "Members"}
		}
	`)
	require.NoError(t, err)

	squad, ok := spec.Entity("Squad")
	require.True(t, ok)
	require.Len(t, squad.Navigations, 1)
	members := squad.Navigations[0]
	assert.True(t, members.Collection)
	assert.Equal(t, ir.DependentTarget, members.DependentSide())
	assert.Equal(t, []string{"SquadId"}, members.ForeignKey)

	assert.Empty(t, Validate(spec))
}

func TestCompileModelErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "no entities",
			src:     `other: 1`,
			wantErr: "at least one entity is required",
		},
		{
			name:    "root without key",
			src:     `entity: City: properties: Name: "string"`,
			wantErr: "root entity types must declare a key",
		},
		{
			name:    "unsupported type",
			src:     `entity: City: { key: ["Name"], properties: Name: "decimal" }`,
			wantErr: "unsupported property type",
		},
		{
			name:    "missing target",
			src:     `entity: City: { key: ["Name"], properties: Name: "string", navigations: X: {foreign_key: ["Name"]} }`,
			wantErr: "target is required",
		},
		{
			name:    "missing foreign key",
			src:     `entity: City: { key: ["Name"], properties: Name: "string", navigations: X: {target: "City"} }`,
			wantErr: "foreign_key is required",
		},
		{
			name:    "bad dependent",
			src:     `entity: City: { key: ["Name"], properties: Name: "string", navigations: X: {target: "City", foreign_key: ["Name"], dependent: "both"} }`,
			wantErr: "dependent must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileString(t, tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var ce *CompileError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestCompileGearsOfWarModel(t *testing.T) {
	data, err := os.ReadFile(gearsOfWarModel)
	require.NoError(t, err)

	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(gearsOfWarModel))
	require.NoError(t, v.Err())

	spec, err := CompileModel(v)
	require.NoError(t, err)
	assert.Empty(t, Validate(spec))

	officer, ok := spec.Entity("Officer")
	require.True(t, ok)
	assert.Equal(t, "Gear", officer.Base)
	assert.Empty(t, officer.Table, "derived types inherit the base table")

	gear, ok := spec.Entity("Gear")
	require.True(t, ok)
	assert.Equal(t, []string{"Nickname", "SquadId"}, gear.Key)
	assert.Equal(t, [][]string{{"FullName"}}, gear.AlternateKeys)
	assert.Equal(t, "Discriminator", gear.Discriminator)
}
