package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/navq/internal/ir"
)

// CompileModel parses the root CUE value of a model definition into a
// ModelSpec. Entities are read from the top-level "entity" struct in
// declaration order.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: City: { table: "Cities", key: ["Name"], properties: { Name: "string" } }`)
//	spec, err := CompileModel(v)
func CompileModel(v cue.Value) (*ir.ModelSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	entitiesVal := v.LookupPath(cue.ParsePath("entity"))
	if !entitiesVal.Exists() {
		return nil, &CompileError{
			Field:   "entity",
			Message: "at least one entity is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := entitiesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.ModelSpec{}
	for iter.Next() {
		entity, err := CompileEntity(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Entities = append(spec.Entities, *entity)
	}

	if len(spec.Entities) == 0 {
		return nil, &CompileError{
			Field:   "entity",
			Message: "at least one entity is required",
			Pos:     entitiesVal.Pos(),
		}
	}
	return spec, nil
}

// CompileEntity parses one entity struct.
func CompileEntity(name string, v cue.Value) (*ir.EntitySpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.EntitySpec{Name: name}

	var err error
	if spec.Base, err = optionalString(v, "base"); err != nil {
		return nil, err
	}
	if spec.Table, err = optionalString(v, "table"); err != nil {
		return nil, err
	}
	if spec.Abstract, err = optionalBool(v, "abstract"); err != nil {
		return nil, err
	}
	if spec.Discriminator, err = optionalString(v, "discriminator"); err != nil {
		return nil, err
	}
	if spec.DiscriminatorValue, err = optionalString(v, "discriminator_value"); err != nil {
		return nil, err
	}
	if spec.Key, err = optionalStrings(v, "key"); err != nil {
		return nil, err
	}

	if spec.Base == "" {
		if spec.Table == "" {
			spec.Table = name
		}
		if len(spec.Key) == 0 {
			return nil, &CompileError{
				Field:   fmt.Sprintf("entity.%s.key", name),
				Message: "root entity types must declare a key",
				Pos:     v.Pos(),
			}
		}
	}

	altVal := v.LookupPath(cue.ParsePath("alternate_keys"))
	if altVal.Exists() {
		altIter, err := altVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for altIter.Next() {
			key, err := stringList(altIter.Value())
			if err != nil {
				return nil, err
			}
			spec.AlternateKeys = append(spec.AlternateKeys, key)
		}
	}

	spec.Properties, err = parseProperties(name, v)
	if err != nil {
		return nil, err
	}

	spec.Navigations, err = parseNavigations(name, v)
	if err != nil {
		return nil, err
	}

	return spec, nil
}

// parseProperties accepts either the shorthand form
//
//	Nickname: "string"
//	AssignedCityName: "string?"
//
// or the long form {type: "string", nullable: true, column: "assigned_city"}.
func parseProperties(entity string, v cue.Value) ([]ir.PropertySpec, error) {
	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if !propsVal.Exists() {
		return []ir.PropertySpec{}, nil
	}

	iter, err := propsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	props := []ir.PropertySpec{}
	for iter.Next() {
		prop := ir.PropertySpec{Name: iter.Label()}
		pv := iter.Value()
		field := fmt.Sprintf("entity.%s.properties.%s", entity, prop.Name)

		var typeName string
		if s, err := pv.String(); err == nil {
			typeName = s
		} else {
			typeName, err = requiredString(pv, "type", field)
			if err != nil {
				return nil, err
			}
			nullable, err := optionalBool(pv, "nullable")
			if err != nil {
				return nil, err
			}
			prop.Nullable = nullable
			if prop.Column, err = optionalString(pv, "column"); err != nil {
				return nil, err
			}
		}

		if strings.HasSuffix(typeName, "?") {
			prop.Nullable = true
			typeName = strings.TrimSuffix(typeName, "?")
		}
		prop.Type = ir.Kind(typeName)
		if !ir.ValidKinds[prop.Type] {
			return nil, &CompileError{
				Field:   field,
				Message: fmt.Sprintf("unsupported property type %q (expected string, int, float or bool)", typeName),
				Pos:     pv.Pos(),
			}
		}
		props = append(props, prop)
	}
	return props, nil
}

func parseNavigations(entity string, v cue.Value) ([]ir.NavigationSpec, error) {
	navsVal := v.LookupPath(cue.ParsePath("navigations"))
	if !navsVal.Exists() {
		return nil, nil
	}

	iter, err := navsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var navs []ir.NavigationSpec
	for iter.Next() {
		nv := iter.Value()
		nav := ir.NavigationSpec{Name: iter.Label()}
		field := fmt.Sprintf("entity.%s.navigations.%s", entity, nav.Name)

		if nav.Target, err = requiredString(nv, "target", field); err != nil {
			return nil, err
		}
		if nav.Collection, err = optionalBool(nv, "collection"); err != nil {
			return nil, err
		}
		if nav.Required, err = optionalBool(nv, "required"); err != nil {
			return nil, err
		}
		if nav.Inverse, err = optionalString(nv, "inverse"); err != nil {
			return nil, err
		}
		if nav.Dependent, err = optionalString(nv, "dependent"); err != nil {
			return nil, err
		}
		if nav.Dependent != "" && nav.Dependent != ir.DependentSelf && nav.Dependent != ir.DependentTarget {
			return nil, &CompileError{
				Field:   field + ".dependent",
				Message: fmt.Sprintf("dependent must be %q or %q", ir.DependentSelf, ir.DependentTarget),
				Pos:     nv.Pos(),
			}
		}
		if nav.ForeignKey, err = optionalStrings(nv, "foreign_key"); err != nil {
			return nil, err
		}
		if len(nav.ForeignKey) == 0 {
			return nil, &CompileError{
				Field:   field + ".foreign_key",
				Message: "foreign_key is required",
				Pos:     nv.Pos(),
			}
		}
		if nav.PrincipalKey, err = optionalStrings(nv, "principal_key"); err != nil {
			return nil, err
		}
		navs = append(navs, nav)
	}
	return navs, nil
}

func requiredString(v cue.Value, path, field string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", &CompileError{
			Field:   field + "." + path,
			Message: path + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := sv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, path string) (bool, error) {
	bv := v.LookupPath(cue.ParsePath(path))
	if !bv.Exists() {
		return false, nil
	}
	b, err := bv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func optionalStrings(v cue.Value, path string) ([]string, error) {
	lv := v.LookupPath(cue.ParsePath(path))
	if !lv.Exists() {
		return nil, nil
	}
	return stringList(lv)
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
