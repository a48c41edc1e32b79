package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/navq/internal/ir"
)

func TestParse_EntitySource(t *testing.T) {
	n, err := Parse("Set<Gear>()")
	require.NoError(t, err)
	assert.Equal(t, &Source{Entity: "Gear"}, n)
}

func TestParse_FilterProjectOrder(t *testing.T) {
	n, err := Parse(`Set<Gear>().Where(g => g.Rank > 0 && g.Nickname != "Marcus").OrderBy(g => g.Nickname).ThenByDescending(g => g.Rank).Select(g => g.FullName).ToList()`)
	require.NoError(t, err)

	term, ok := n.(*Terminal)
	require.True(t, ok)
	assert.Equal(t, OpToList, term.Op)

	proj, ok := term.Input.(*Project)
	require.True(t, ok)
	assert.Equal(t, Prop("g", "FullName"), proj.Selector.Body)

	ob, ok := proj.Input.(*OrderBy)
	require.True(t, ok, "ThenBy extends the preceding OrderBy")
	require.Len(t, ob.Keys, 2)
	assert.False(t, ob.Keys[0].Descending)
	assert.True(t, ob.Keys[1].Descending)
	assert.Equal(t, Prop("g", "Rank"), ob.Keys[1].Key.Body)

	filter, ok := ob.Input.(*Filter)
	require.True(t, ok)
	assert.Equal(t, &Binary{
		Op: OpAndAlso,
		Left: &Binary{Op: OpGreater, Left: Prop("g", "Rank"), Right: Lit(0)},
		Right: &Binary{Op: OpNotEqual, Left: Prop("g", "Nickname"), Right: Lit("Marcus")},
	}, filter.Predicate.Body)
	assert.Equal(t, &Source{Entity: "Gear"}, filter.Input)
}

func TestParse_Precedence(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want Expr
	}{
		{
			name: "multiplication binds tighter than addition",
			expr: "1 + 2 * 3",
			want: &Binary{Op: OpAdd, Left: Lit(1), Right: &Binary{Op: OpMultiply, Left: Lit(2), Right: Lit(3)}},
		},
		{
			name: "and binds tighter than or",
			expr: "g.A || g.B && g.C",
			want: &Binary{Op: OpOrElse, Left: Prop("g", "A"), Right: &Binary{Op: OpAndAlso, Left: Prop("g", "B"), Right: Prop("g", "C")}},
		},
		{
			name: "coalesce is right associative",
			expr: "g.A ?? g.B ?? 1",
			want: &Binary{Op: OpCoalesce, Left: Prop("g", "A"), Right: &Binary{Op: OpCoalesce, Left: Prop("g", "B"), Right: Lit(1)}},
		},
		{
			name: "negative literal folds",
			expr: "-5",
			want: Lit(-5),
		},
		{
			name: "type test then conditional",
			expr: "g is Officer ? 1 : 0",
			want: &Conditional{Test: &TypeIs{Operand: Prop("g"), Type: "Officer"}, Then: Lit(1), Else: Lit(0)},
		},
		{
			name: "soft cast member access",
			expr: "(g as Officer).Nickname",
			want: &Member{Target: &TypeAs{Operand: Prop("g"), Type: "Officer"}, Name: "Nickname"},
		},
		{
			name: "nullable hard cast",
			expr: "cast<int?>(g.Rank)",
			want: &Convert{Operand: Prop("g", "Rank"), Type: "int?"},
		},
		{
			name: "not applies to the member chain",
			expr: "!g.HasSoulPatch",
			want: &Unary{Op: OpNot, Operand: Prop("g", "HasSoulPatch")},
		},
		{
			name: "query parameter",
			expr: "g.Rank == @rank",
			want: &Binary{Op: OpEqual, Left: Prop("g", "Rank"), Right: &Parameter{Name: "rank"}},
		},
		{
			name: "static function",
			expr: "Math.Abs(g.Rank - 3)",
			want: &Call{Method: "Math.Abs", Args: []Expr{&Binary{Op: OpSubtract, Left: Prop("g", "Rank"), Right: Lit(3)}}},
		},
		{
			name: "instance method",
			expr: `g.Nickname.StartsWith("M")`,
			want: &Call{Target: Prop("g", "Nickname"), Method: "StartsWith", Args: []Expr{Lit("M")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse("Set<Gear>().Select(g => " + tt.expr + ")")
			require.NoError(t, err)
			proj := n.(*Project)
			assert.Equal(t, tt.want, proj.Selector.Body)
		})
	}
}

func TestParse_Checked(t *testing.T) {
	n, err := Parse("Set<Weapon>().Select(w => checked(w.Id + 1) * 2)")
	require.NoError(t, err)
	body := n.(*Project).Selector.Body.(*Binary)
	assert.False(t, body.Checked, "outer multiplication is outside checked()")
	inner := body.Left.(*Binary)
	assert.True(t, inner.Checked)
	assert.Equal(t, OpAdd, inner.Op)
}

func TestParse_AnonymousRecord(t *testing.T) {
	n, err := Parse(`Set<Gear>().Select(g => new { g.Nickname, Weapons = g.Weapons.Count(), g })`)
	require.NoError(t, err)
	rec := n.(*Project).Selector.Body.(*New)
	require.Len(t, rec.Fields, 3)
	assert.Equal(t, "Nickname", rec.Fields[0].Name)
	assert.Equal(t, "Weapons", rec.Fields[1].Name)
	assert.Equal(t, "g", rec.Fields[2].Name)

	count, ok := rec.Fields[1].Value.(*Subquery)
	require.True(t, ok)
	term := count.Query.(*Terminal)
	assert.Equal(t, OpCount, term.Op)
	assert.Equal(t, &Source{Collection: Prop("g", "Weapons")}, term.Input)
}

func TestParse_TerminalPredicateFoldsIntoFilter(t *testing.T) {
	n, err := Parse(`Set<Gear>().First(g => g.Nickname == "Dom")`)
	require.NoError(t, err)
	term := n.(*Terminal)
	assert.Equal(t, OpFirst, term.Op)
	assert.Nil(t, term.Selector)
	_, ok := term.Input.(*Filter)
	assert.True(t, ok)

	n, err = Parse(`Set<Mission>().Sum(m => m.Rating)`)
	require.NoError(t, err)
	term = n.(*Terminal)
	assert.Equal(t, OpSum, term.Op)
	require.NotNil(t, term.Selector)
	assert.Equal(t, &Source{Entity: "Mission"}, term.Input)
}

func TestParse_GroupByOverloads(t *testing.T) {
	n, err := Parse(`Set<Gear>().GroupBy(g => g.Rank, (k, gs) => new { Rank = k, Count = gs.Count() })`)
	require.NoError(t, err)
	gb := n.(*GroupBy)
	assert.Nil(t, gb.Element)
	require.NotNil(t, gb.Result)
	assert.Equal(t, []string{"k", "gs"}, gb.Result.Params)

	n, err = Parse(`Set<Gear>().GroupBy(g => g.Rank, g => g.Nickname)`)
	require.NoError(t, err)
	gb = n.(*GroupBy)
	require.NotNil(t, gb.Element)
	assert.Nil(t, gb.Result)
}

func TestParse_Joins(t *testing.T) {
	n, err := Parse(`Set<Gear>().LeftJoin(Set<Weapon>(), g => g.FullName, w => w.OwnerFullName, (g, w) => new { g.Nickname, Weapon = w.Name })`)
	require.NoError(t, err)
	j := n.(*Join)
	assert.Equal(t, JoinLeft, j.Kind)
	assert.Equal(t, &Source{Entity: "Weapon"}, j.Inner)

	n, err = Parse(`Set<Squad>().GroupJoin(Set<Gear>(), s => s.Id, g => g.SquadId, (s, gs) => new { s.Name, Count = gs.Count() })`)
	require.NoError(t, err)
	_, ok := n.(*GroupJoin)
	assert.True(t, ok)
}

func TestParse_Include(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []IncludeSegment
	}{
		{
			name:  "string path",
			query: `Set<Gear>().Include("Weapons.Owner")`,
			want:  []IncludeSegment{{Name: "Weapons"}, {Name: "Owner"}},
		},
		{
			name:  "lambda path through soft cast",
			query: `Set<Gear>().Include(g => (g as Officer).Reports)`,
			want:  []IncludeSegment{{Name: "Reports", Type: "Officer"}},
		},
		{
			name:  "reference chain",
			query: `Set<CogTag>().Include(t => t.Gear.Squad)`,
			want:  []IncludeSegment{{Name: "Gear"}, {Name: "Squad"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse(tt.query)
			require.NoError(t, err)
			inc := n.(*Include)
			assert.Equal(t, tt.want, inc.Path)
		})
	}
}

func TestParse_FilteredIncludeAndThenInclude(t *testing.T) {
	n, err := Parse(`Set<Gear>().Include(g => g.Weapons.Where(w => w.IsAutomatic).OrderBy(w => w.Name).Take(2)).ThenInclude(w => w.SynergyWith)`)
	require.NoError(t, err)

	outer := n.(*Include)
	require.Len(t, outer.Path, 2)
	assert.Equal(t, "SynergyWith", outer.Path[1].Name)

	inner, ok := outer.Input.(*Include)
	require.True(t, ok)
	require.Len(t, inner.Path, 1)
	f := inner.Path[0].Filter
	require.NotNil(t, f)
	assert.Equal(t, Prop("w", "IsAutomatic"), f.Where.Body)
	require.Len(t, f.Keys, 1)
	assert.Equal(t, Lit(2), f.Take)
	assert.Nil(t, f.Skip)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		kind  ErrorKind
	}{
		{"unknown identifier", "Set<Gear>().Where(g => x.Rank > 0)", ErrInvalidQuery},
		{"unterminated string", `Set<Gear>().Where(g => g.Nickname == "Marcus)`, ErrInvalidQuery},
		{"ThenBy without OrderBy", "Set<Gear>().ThenBy(g => g.Rank)", ErrInvalidQuery},
		{"ThenInclude without Include", "Set<Gear>().ThenInclude(g => g.Squad)", ErrInvalidQuery},
		{"wrong lambda arity", "Set<Gear>().Where((a, b) => a.Rank > 0)", ErrInvalidQuery},
		{"not a query", "1 + 2", ErrInvalidQuery},
		{"trailing tokens", "Set<Gear>() )", ErrInvalidQuery},
		{"negative take", "Set<Gear>().Take(-1)", ErrInvalidQuery},
		{"include of a computed value", "Set<Gear>().Include(g => g.Rank + 1)", ErrIncludeMisuse},
		{"include filter order", "Set<Gear>().Include(g => g.Weapons.Take(1).Where(w => w.IsAutomatic))", ErrIncludeMisuse},
		{"duplicate record member", "Set<Gear>().Select(g => new { g.Rank, Rank = 1 })", ErrInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.query)
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestParse_ErrorCarriesOffset(t *testing.T) {
	_, err := Parse("Set<Gear>().Where(g => x.Rank)")
	var te *TranslationError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 23, te.Pos)
	assert.Contains(t, err.Error(), "unknown identifier 'x'")
}

func TestParse_CorrelatedLambdaSeesOuterParameter(t *testing.T) {
	n, err := Parse(`Set<Gear>().Select(g => g.Weapons.Where(w => w.Name != g.Nickname).ToList())`)
	require.NoError(t, err)
	sub := n.(*Project).Selector.Body.(*Subquery)
	filter := sub.Query.(*Terminal).Input.(*Filter)
	assert.Equal(t, &Binary{Op: OpNotEqual, Left: Prop("w", "Name"), Right: Prop("g", "Nickname")}, filter.Predicate.Body)
}

func TestParse_Literals(t *testing.T) {
	n, err := Parse(`Set<Mission>().Where(m => m.Rating > 2.5 && m.CodeName != "a\"b" && m.Id != null && true)`)
	require.NoError(t, err)
	body := n.(*Filter).Predicate.Body.(*Binary)
	assert.Equal(t, &Constant{Value: ir.IRBool(true)}, body.Right)
	left := body.Left.(*Binary).Left.(*Binary)
	assert.Equal(t, &Constant{Value: ir.IRFloat(2.5)}, left.Left.(*Binary).Right)
	assert.Equal(t, &Constant{Value: ir.IRString(`a"b`)}, left.Right.(*Binary).Right)
}
