package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat_RoundTrip(t *testing.T) {
	queries := []string{
		`Set<Gear>().Where(g => g.HasSoulPatch || g.Rank > 0).OrderBy(g => g.Nickname).ThenByDescending(g => g.Rank).Skip(1).Take(@n).ToList()`,
		`Set<Gear>().Select(g => new { g.Nickname, Weapons = g.Weapons.Where(w => w.IsAutomatic || w.Name != "foo").OrderByDescending(w => w.Name).ToList() })`,
		`Set<Faction>().OfType<LocustHorde>().Select(h => h.Commander.ThreatLevel)`,
		`Set<Mission>().GroupBy(m => m.CodeName, (k, ms) => new { k, Total = ms.Sum(m => m.Rating) })`,
		`Set<Gear>().Include(g => (g as Officer).Reports).Include("Weapons.Owner")`,
		`Set<Gear>().Include(g => g.Weapons.Where(w => w.IsAutomatic).OrderBy(w => w.Name).Take(2))`,
		`Set<Gear>().Select(g => g is Officer ? cast<Officer>(g).Reports.Count() : -1)`,
		`Set<Weapon>().Select(w => checked(w.Id + 9223372036854775807))`,
		`Set<Gear>().Concat(Set<Gear>().Where(g => !g.HasSoulPatch)).Distinct().Count()`,
		`Set<Squad>().SelectMany(s => s.Members.DefaultIfEmpty(), (s, g) => new { s.Name, Nick = g.Nickname ?? "none" })`,
		`Set<Weapon>().Select(w => Math.Abs(w.Id - 5) % 3 == 1 ? w.Name.ToUpper() : null).ElementAtOrDefault(2)`,
		`Set<Mission>().Where(m => m.Rating >= 2.0).Average(m => m.Rating)`,
		`Set<Gear>().All(g => g.Squad.Name.StartsWith("D"))`,
	}

	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			first, err := Parse(q)
			require.NoError(t, err)
			text := Format(first)
			second, err := Parse(text)
			require.NoError(t, err, "formatted text: %s", text)
			assert.Equal(t, first, second, "formatted text: %s", text)
			assert.Equal(t, text, Format(second), "formatting is stable")
		})
	}
}

func TestFormat_Lambda(t *testing.T) {
	assert.Equal(t, `g => (g.Rank > 0)`, FormatLambda(Lam("g", &Binary{Op: OpGreater, Left: Prop("g", "Rank"), Right: Lit(0)})))
	assert.Equal(t, `(o, i) => o.Name`, FormatLambda(Lam2("o", "i", Prop("o", "Name"))))
}
