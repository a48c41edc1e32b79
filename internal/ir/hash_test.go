package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeHashDeterminism(t *testing.T) {
	shape := IRObject{
		"node":   IRString("Filter"),
		"params": IRObject{"p": IRBool(true)},
	}

	h1, err := ShapeHash(shape)
	require.NoError(t, err)
	h2 := MustShapeHash(IRObject{
		"params": IRObject{"p": IRBool(true)},
		"node":   IRString("Filter"),
	})

	assert.Equal(t, h1, h2, "key order must not matter")
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestShapeHashChangesWithParameterNullness(t *testing.T) {
	a := MustShapeHash(IRObject{"params": IRObject{"p": IRBool(true)}})
	b := MustShapeHash(IRObject{"params": IRObject{"p": IRBool(false)}})
	assert.NotEqual(t, a, b)
}

func TestHashDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t,
		hashWithDomain(DomainQueryShape, data),
		hashWithDomain(DomainModel, data))
}

func TestModelHashIgnoresDeclarationOrder(t *testing.T) {
	city := EntitySpec{Name: "City", Table: "Cities", Key: []string{"Name"},
		Properties: []PropertySpec{{Name: "Name", Type: KindString}}}
	squad := EntitySpec{Name: "Squad", Table: "Squads", Key: []string{"Id"},
		Properties: []PropertySpec{{Name: "Id", Type: KindInt}}}

	h1, err := ModelHash(&ModelSpec{Entities: []EntitySpec{city, squad}})
	require.NoError(t, err)
	h2, err := ModelHash(&ModelSpec{Entities: []EntitySpec{squad, city}})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	squad.Properties = append(squad.Properties, PropertySpec{Name: "Name", Type: KindString})
	h3, err := ModelHash(&ModelSpec{Entities: []EntitySpec{city, squad}})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestNavigationDependentSide(t *testing.T) {
	assert.Equal(t, DependentTarget, NavigationSpec{Collection: true, Dependent: DependentSelf}.DependentSide())
	assert.Equal(t, DependentSelf, NavigationSpec{}.DependentSide())
	assert.Equal(t, DependentTarget, NavigationSpec{Dependent: DependentTarget}.DependentSide())
}
