package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/ir"
)

func TestToIR(t *testing.T) {
	marcus := NewEntity("Officer")
	marcus.Properties["Nickname"] = "Marcus"
	marcus.Properties["Rank"] = int64(2)
	marcus.Properties["AssignedCityName"] = nil
	lancer := NewEntity("Weapon")
	lancer.Properties["Id"] = int64(1)
	marcus.Navigations["Weapons"] = []any{lancer}
	marcus.Navigations["Tag"] = nil

	got, err := ToIR([]any{
		marcus,
		&Record{Names: []string{"Name", "Count"}, Values: []any{"Delta", int64(4)}},
		&Grouping{Key: "Delta", Elements: []any{2.5}},
	})
	require.NoError(t, err)

	want := ir.IRArray{
		ir.IRObject{
			"$type":            ir.IRString("Officer"),
			"Nickname":         ir.IRString("Marcus"),
			"Rank":             ir.IRInt(2),
			"AssignedCityName": ir.IRNull{},
			"Tag":              ir.IRNull{},
			"Weapons":          ir.IRArray{ir.IRObject{"$type": ir.IRString("Weapon"), "Id": ir.IRInt(1)}},
		},
		ir.IRObject{"Name": ir.IRString("Delta"), "Count": ir.IRInt(4)},
		ir.IRObject{"Key": ir.IRString("Delta"), "Elements": ir.IRArray{ir.IRFloat(2.5)}},
	}
	assert.Equal(t, want, got)
}

func TestToIR_Unsupported(t *testing.T) {
	_, err := ToIR(&Record{Names: []string{"Bad"}, Values: []any{struct{}{}}})
	assert.ErrorContains(t, err, "Bad")
}

func TestGet(t *testing.T) {
	e := NewEntity("Squad")
	e.Properties["Name"] = "Delta"
	e.Navigations["Members"] = []any{}
	v, ok := e.Get("Name")
	assert.True(t, ok)
	assert.Equal(t, "Delta", v)
	_, ok = e.Get("Members")
	assert.True(t, ok)
	_, ok = e.Get("Missing")
	assert.False(t, ok)

	r := &Record{Names: []string{"A"}, Values: []any{nil}}
	_, ok = r.Get("A")
	assert.True(t, ok)
	_, ok = r.Get("B")
	assert.False(t, ok)
}
