// Package harness runs query conformance scenarios.
//
// A scenario names a model and a seed and lists query cases. The harness
// compiles every case under each collection strategy, executes it against
// a fresh in-memory SQLite database and compares the result with the
// in-memory evaluation of the same query over the seed graph. A case may
// instead give a literal expectation or an expected error code.
//
// # Scenario Format
//
//	name: nested_weapons
//	description: "What this scenario validates"
//	model: ../gearsofwar          # directory holding model.cue
//	seed: ../gearsofwar/seed.yaml # optional, defaults to model/seed.yaml
//	strategies: [inline, batched] # optional, this is the default
//	cases:
//	  - name: filtered_weapons
//	    query: Set<Gear>().OrderBy(g => g.Nickname).Select(g => g.Weapons.ToList())
//	    assert_order: true
//	  - name: derived_member_needs_type_filter
//	    query: Set<Faction>().Select(f => f.Commander.ThreatLevel)
//	    expect_error: UNTRANSLATABLE_MEMBER
//	  - name: sum_of_nulls
//	    query: Set<Mission>().Where(m => m.Rating == null).Sum(m => m.Rating)
//	    expect: 0
//
// # Comparison
//
// Compare is the oracle boundary. Results are rendered to IR values, numbers
// are normalized so that 2.0 equals 2, and unless order is asserted both
// sides are sorted before element-wise comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/weapons.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, c := range result.Failures() {
//	    log.Println(c.Name, c.Strategy, c.Error)
//	}
package harness
