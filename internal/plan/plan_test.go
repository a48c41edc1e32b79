package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/queryir"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		in   any
		kind ir.Kind
		want any
	}{
		{int64(1), ir.KindBool, true},
		{int64(0), ir.KindBool, false},
		{int64(3), ir.KindFloat, 3.0},
		{2.0, ir.KindInt, int64(2)},
		{2.5, ir.KindInt, 2.5},
		{[]byte("abc"), ir.KindString, "abc"},
		{[]byte("abc"), ir.KindUnknown, "abc"},
		{nil, ir.KindInt, nil},
		{"x", ir.KindString, "x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Convert(tt.in, tt.kind), "%v as %s", tt.in, tt.kind)
	}
}

func TestCollections_StopAtBatchedBoundary(t *testing.T) {
	innerMost := &Collection{Strategy: correlate.Inline, Element: &Scalar{}}
	batched := &Collection{Strategy: correlate.Batched, Plan: &Plan{Shaper: innerMost}}
	inline := &Collection{Strategy: correlate.Inline, Element: &Record{Fields: []Field{{Name: "B", Shaper: batched}}}}
	root := &Record{Fields: []Field{{Name: "A", Shaper: inline}, {Name: "N", Shaper: &Scalar{}}}}

	assert.Equal(t, []*Collection{inline, batched}, Collections(root))
}

func TestDescribe(t *testing.T) {
	gear := &catalog.EntityType{Name: "Gear"}
	weapon := &catalog.EntityType{Name: "Weapon"}
	p := &Plan{
		SQL:        `SELECT "g"."Nickname" FROM "Gears" AS "g"`,
		Parameters: []string{"rank"},
		Identifier: []int{0, 1},
		Terminal:   Terminal{Op: queryir.OpMax, FailOnEmpty: true},
		Shaper: &Record{Fields: []Field{
			{Name: "Gear", Shaper: &Entity{
				Type: gear, Key: []int{0, 1}, Discriminator: 2,
				Includes: []*Include{{
					Nav: &catalog.Navigation{Name: "Weapons"},
					Target: &Collection{
						Strategy: correlate.Batched,
						Bindings: []Binding{{Param: "corr_c0", Index: 3}},
						Plan: &Plan{
							SQL:    `SELECT "w"."Id" FROM "Weapons" AS "w"`,
							Shaper: &Entity{Type: weapon, Key: []int{0}, Discriminator: -1},
						},
					},
				}},
			}},
			{Name: "Rank", Shaper: &Scalar{Index: 4, Kind: ir.KindInt, Nullable: true}},
		}},
	}

	want := `SQL: SELECT "g"."Nickname" FROM "Gears" AS "g"
Parameters: rank
Terminal: Max (fails on empty)
Identifier: [0 1]
Shape:
  record
    Gear:
      entity Gear key [0 1] discriminator 2
        include Weapons:
          collection batched bindings [corr_c0=3]
            SQL: SELECT "w"."Id" FROM "Weapons" AS "w"
            Terminal: ToList
            Shape:
              entity Weapon key [0]
    Rank:
      column 4 int?
`
	assert.Equal(t, want, Describe(p))
}

func TestDescribe_TypeCheck(t *testing.T) {
	faction := &catalog.EntityType{Name: "Faction"}
	horde := &catalog.EntityType{Name: "LocustHorde"}
	check := &TypeCheck{Tag: 1, Root: faction, Target: horde, Value: &Scalar{Index: 0, Kind: ir.KindString, Nullable: true}}
	p := &Plan{SQL: `SELECT 1`, Shaper: check}

	assert.Contains(t, Describe(p), "  cast LocustHorde tag 1\n    column 0 string?\n")
	assert.Empty(t, Collections(check))
}
