package plan

import (
	"fmt"
	"strings"

	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/queryir"
)

// Describe renders a plan for humans: its SQL, parameters, terminal and
// shaper tree. Batched collections are described with their own SQL.
func Describe(p *Plan) string {
	var b strings.Builder
	describePlan(&b, p, "")
	return b.String()
}

func describePlan(b *strings.Builder, p *Plan, indent string) {
	fmt.Fprintf(b, "%sSQL: %s\n", indent, p.SQL)
	if len(p.Parameters) > 0 {
		fmt.Fprintf(b, "%sParameters: %s\n", indent, strings.Join(p.Parameters, ", "))
	}
	op := p.Terminal.Op
	if op == "" {
		op = queryir.OpToList
	}
	fmt.Fprintf(b, "%sTerminal: %s", indent, op)
	if p.Terminal.FailOnEmpty {
		b.WriteString(" (fails on empty)")
	}
	b.WriteString("\n")
	if len(p.Identifier) > 0 {
		fmt.Fprintf(b, "%sIdentifier: %s\n", indent, ints(p.Identifier))
	}
	fmt.Fprintf(b, "%sShape:\n", indent)
	describeShaper(b, p.Shaper, indent+"  ")
}

func describeShaper(b *strings.Builder, s Shaper, indent string) {
	switch s := s.(type) {
	case *Scalar:
		fmt.Fprintf(b, "%scolumn %d %s", indent, s.Index, s.Kind)
		if s.Nullable {
			b.WriteString("?")
		}
		b.WriteString("\n")
	case *Constant:
		fmt.Fprintf(b, "%sconstant %v\n", indent, s.Value)
	case *Entity:
		fmt.Fprintf(b, "%sentity %s key %s", indent, s.Type.Name, ints(s.Key))
		if s.Discriminator >= 0 {
			fmt.Fprintf(b, " discriminator %d", s.Discriminator)
		}
		if s.Assert != nil {
			fmt.Fprintf(b, " cast %s", s.Assert.Name)
		}
		b.WriteString("\n")
		for _, inc := range s.Includes {
			fmt.Fprintf(b, "%s  include %s", indent, inc.Nav.Name)
			if inc.Through != nil {
				fmt.Fprintf(b, " on %s", inc.Through.Name)
			}
			b.WriteString(":\n")
			describeShaper(b, inc.Target, indent+"    ")
		}
	case *Record:
		fmt.Fprintf(b, "%srecord\n", indent)
		for _, f := range s.Fields {
			fmt.Fprintf(b, "%s  %s:\n", indent, f.Name)
			describeShaper(b, f.Shaper, indent+"    ")
		}
	case *Collection:
		kind := "collection"
		if s.Single {
			kind = "single"
		}
		fmt.Fprintf(b, "%s%s %s", indent, kind, s.Strategy)
		if s.Strategy == correlate.Inline {
			fmt.Fprintf(b, " identifier %s presence %d\n", ints(s.Identifier), s.Presence)
			describeShaper(b, s.Element, indent+"  ")
			return
		}
		bindings := make([]string, len(s.Bindings))
		for i, bd := range s.Bindings {
			bindings[i] = fmt.Sprintf("%s=%d", bd.Param, bd.Index)
		}
		fmt.Fprintf(b, " bindings [%s]\n", strings.Join(bindings, " "))
		describePlan(b, s.Plan, indent+"  ")
	case *Client:
		fmt.Fprintf(b, "%sclient %s\n", indent, s.Name)
		for _, a := range s.Args {
			describeShaper(b, a, indent+"  ")
		}
	case *TypeCheck:
		fmt.Fprintf(b, "%scast %s tag %d\n", indent, s.Target.Name, s.Tag)
		describeShaper(b, s.Value, indent+"  ")
	case *Grouping:
		fmt.Fprintf(b, "%sgrouping\n", indent)
		fmt.Fprintf(b, "%s  key:\n", indent)
		describeShaper(b, s.Key, indent+"    ")
		fmt.Fprintf(b, "%s  elements:\n", indent)
		describeShaper(b, s.Elements, indent+"    ")
	default:
		fmt.Fprintf(b, "%s%T\n", indent, s)
	}
}

func ints(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
