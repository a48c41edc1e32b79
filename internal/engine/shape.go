package engine

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/navq/internal/correlate"
	"github.com/roach88/navq/internal/ir"
	"github.com/roach88/navq/internal/object"
	"github.com/roach88/navq/internal/plan"
)

// shape builds the value of s from the rows of one element. Scalars and
// entities read the first row; collections read all of them.
func (r *run) shape(s plan.Shaper, rows [][]any) (any, error) {
	switch s := s.(type) {
	case *plan.Scalar:
		return plan.Convert(rows[0][s.Index], s.Kind), nil

	case *plan.Constant:
		return s.Value, nil

	case *plan.Entity:
		return r.entity(s, rows)

	case *plan.Record:
		rec := &object.Record{Names: make([]string, len(s.Fields)), Values: make([]any, len(s.Fields))}
		for i, f := range s.Fields {
			v, err := r.shape(f.Shaper, rows)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			rec.Names[i] = f.Name
			rec.Values[i] = v
		}
		return rec, nil

	case *plan.Collection:
		elems, err := r.collection(s, rows)
		if err != nil {
			return nil, err
		}
		if s.Single {
			if len(elems) == 0 {
				return nil, nil
			}
			return elems[0], nil
		}
		return elems, nil

	case *plan.Client:
		args := make([]any, len(s.Args))
		for i, a := range s.Args {
			v, err := r.shape(a, rows)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		v, err := s.Eval(args)
		if err != nil {
			return nil, clientError(s.Name, err)
		}
		return v, nil

	case *plan.TypeCheck:
		if tag := rows[0][s.Tag]; tag != nil {
			value, _ := plan.Convert(tag, ir.KindString).(string)
			t, ok := r.cat.ByDiscriminator(s.Root, value)
			if !ok {
				return nil, fmt.Errorf("%s: unknown discriminator value %q", s.Root.Name, value)
			}
			if !r.cat.IsAssignableTo(t, s.Target) {
				return nil, NewCastError(t.Name, s.Target.Name)
			}
		}
		return r.shape(s.Value, rows)

	case *plan.Grouping:
		key, err := r.shape(s.Key, rows)
		if err != nil {
			return nil, err
		}
		elems, err := r.collection(s.Elements, rows)
		if err != nil {
			return nil, err
		}
		return &object.Grouping{Key: key, Elements: elems}, nil
	}
	return nil, fmt.Errorf("unknown shaper %T", s)
}

// clientError classifies a failure of client evaluation.
func clientError(name string, err error) error {
	var re *RuntimeError
	if errors.As(err, &re) {
		return err
	}
	return NewOperationError(fmt.Sprintf("%s: %v", name, err))
}

func (r *run) entity(s *plan.Entity, rows [][]any) (any, error) {
	row := rows[0]
	if len(s.Key) > 0 {
		absent := true
		for _, i := range s.Key {
			if row[i] != nil {
				absent = false
				break
			}
		}
		if absent {
			return nil, nil
		}
	}

	concrete := s.Type
	if s.Discriminator >= 0 {
		value, _ := plan.Convert(row[s.Discriminator], ir.KindString).(string)
		t, ok := r.cat.ByDiscriminator(s.Type, value)
		if !ok {
			return nil, fmt.Errorf("%s: unknown discriminator value %q", s.Type.Name, value)
		}
		concrete = t
	}
	if s.Assert != nil && !r.cat.IsAssignableTo(concrete, s.Assert) {
		return nil, NewCastError(concrete.Name, s.Assert.Name)
	}

	e := object.NewEntity(concrete.Name)
	for _, slot := range s.Slots {
		if !r.cat.IsAssignableTo(concrete, r.cat.Type(slot.Property.Declaring)) {
			continue
		}
		e.Properties[slot.Property.Name] = plan.Convert(row[slot.Index], slot.Property.Kind)
	}
	for _, inc := range s.Includes {
		if inc.Through != nil && !r.cat.IsAssignableTo(concrete, inc.Through) {
			continue
		}
		v, err := r.shape(inc.Target, rows)
		if err != nil {
			return nil, fmt.Errorf("include %s: %w", inc.Nav.Name, err)
		}
		e.Navigations[inc.Nav.Name] = v
	}
	return e, nil
}

// collection builds the elements of a nested collection for the rows of
// its parent element.
func (r *run) collection(c *plan.Collection, rows [][]any) ([]any, error) {
	if c.Strategy == correlate.Batched {
		return r.batched(c, rows[0])
	}

	// Inline: the parent rows are the product of every inline collection
	// of the parent, so elements are deduplicated by identifier in the
	// order they first appear.
	var order []string
	groups := make(map[string][][]any)
	for i, row := range rows {
		if c.Presence >= 0 && row[c.Presence] == nil {
			continue
		}
		k := strconv.Itoa(i)
		if len(c.Identifier) > 0 {
			k = tupleKey(row, c.Identifier)
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], row)
	}

	out := make([]any, 0, len(order))
	for _, k := range order {
		v, err := r.shape(c.Element, groups[k])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
