package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/navq/internal/ir"
)

func codes(errs []ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func squadGearModel() *ir.ModelSpec {
	return &ir.ModelSpec{Entities: []ir.EntitySpec{
		{
			Name: "Squad", Table: "Squads", Key: []string{"Id"},
			Properties: []ir.PropertySpec{{Name: "Id", Type: ir.KindInt}},
			Navigations: []ir.NavigationSpec{
				{Name: "Members", Target: "Gear", Collection: true, ForeignKey: []string{"SquadId"}, Inverse: "Squad"},
			},
		},
		{
			Name: "Gear", Table: "Gears", Key: []string{"Nickname", "SquadId"}, Discriminator: "Discriminator",
			Properties: []ir.PropertySpec{
				{Name: "Nickname", Type: ir.KindString},
				{Name: "SquadId", Type: ir.KindInt},
				{Name: "LeaderNickname", Type: ir.KindString, Nullable: true},
				{Name: "LeaderSquadId", Type: ir.KindInt},
			},
			Navigations: []ir.NavigationSpec{
				{Name: "Squad", Target: "Squad", ForeignKey: []string{"SquadId"}, Inverse: "Members"},
			},
		},
		{
			Name: "Officer", Base: "Gear",
			Navigations: []ir.NavigationSpec{
				{Name: "Reports", Target: "Gear", Collection: true, ForeignKey: []string{"LeaderNickname", "LeaderSquadId"}},
			},
		},
	}}
}

func TestValidateAcceptsConsistentModel(t *testing.T) {
	assert.Empty(t, Validate(squadGearModel()))
}

func TestValidateCompositeKeyArity(t *testing.T) {
	spec := squadGearModel()
	spec.Entities[2].Navigations[0].ForeignKey = []string{"LeaderNickname"}

	errs := Validate(spec)
	assert.Equal(t, []string{ErrKeyArity}, codes(errs))
	assert.Contains(t, errs[0].Error(), "foreign key has 1 properties but principal key has 2")
}

func TestValidateKeyTypeMismatch(t *testing.T) {
	spec := squadGearModel()
	spec.Entities[1].Properties[1].Type = ir.KindString

	assert.Contains(t, codes(Validate(spec)), ErrKeyTypeMismatch)
}

func TestValidateInverseMustBeSymmetric(t *testing.T) {
	spec := squadGearModel()
	spec.Entities[1].Navigations[0].Inverse = "Reports"

	assert.Contains(t, codes(Validate(spec)), ErrInverseMismatch)
}

func TestValidateUnknownReferences(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ir.ModelSpec)
		code   string
	}{
		{"unknown base", func(s *ir.ModelSpec) { s.Entities[2].Base = "Soldier" }, ErrUnknownBase},
		{"unknown target", func(s *ir.ModelSpec) { s.Entities[0].Navigations[0].Target = "Soldier" }, ErrUnknownTarget},
		{"unknown key property", func(s *ir.ModelSpec) { s.Entities[0].Key = []string{"Code"} }, ErrUnknownKeyProperty},
		{"unknown fk property", func(s *ir.ModelSpec) { s.Entities[1].Navigations[0].ForeignKey = []string{"TeamId"} }, ErrUnknownFKProperty},
		{"nullable key", func(s *ir.ModelSpec) { s.Entities[1].Properties[0].Nullable = true }, ErrNullableKey},
		{"missing discriminator", func(s *ir.ModelSpec) { s.Entities[1].Discriminator = "" }, ErrMissingDiscriminator},
		{"duplicate entity", func(s *ir.ModelSpec) { s.Entities = append(s.Entities, s.Entities[0]) }, ErrDuplicateEntity},
		{"derived declares table", func(s *ir.ModelSpec) { s.Entities[2].Table = "Officers" }, ErrDerivedDeclaresTable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := squadGearModel()
			tt.mutate(spec)
			assert.Contains(t, codes(Validate(spec)), tt.code)
		})
	}
}

func TestValidateInheritanceCycle(t *testing.T) {
	spec := &ir.ModelSpec{Entities: []ir.EntitySpec{
		{Name: "A", Base: "B"},
		{Name: "B", Base: "A"},
	}}
	assert.Contains(t, codes(Validate(spec)), ErrInheritanceCycle)
}

func TestValidateDuplicateDiscriminatorValue(t *testing.T) {
	spec := squadGearModel()
	spec.Entities[2].DiscriminatorValue = "Gear"
	assert.Contains(t, codes(Validate(spec)), ErrDuplicateDiscriminant)
}

func TestValidateDuplicateMemberAcrossHierarchy(t *testing.T) {
	spec := squadGearModel()
	spec.Entities[2].Properties = []ir.PropertySpec{{Name: "Nickname", Type: ir.KindString}}
	assert.Contains(t, codes(Validate(spec)), ErrDuplicateMember)
}
