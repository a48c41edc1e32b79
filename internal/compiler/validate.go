package compiler

import (
	"fmt"

	"github.com/roach88/navq/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrDuplicateEntity       = "E201" // entity declared twice
	ErrUnknownBase           = "E202" // base type not declared
	ErrInheritanceCycle      = "E203" // base chain loops back
	ErrMissingDiscriminator  = "E204" // hierarchy without a discriminator column
	ErrDuplicateDiscriminant = "E205" // two types share a discriminator value
	ErrUnknownKeyProperty    = "E206" // key names an undeclared property
	ErrNullableKey           = "E207" // primary key property is nullable
	ErrDuplicateMember       = "E208" // property/navigation name reused in a hierarchy
	ErrUnknownTarget         = "E210" // navigation target not declared
	ErrKeyArity              = "E211" // foreign key and principal key lengths differ
	ErrUnknownFKProperty     = "E212" // foreign/principal key property not declared
	ErrKeyTypeMismatch       = "E213" // foreign key and principal key types differ
	ErrInverseMismatch       = "E214" // inverse navigation missing or not symmetric
	ErrDerivedDeclaresTable  = "E215" // derived type overrides table or key
)

// ValidationError represents a model validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled model for structural consistency.
// Returns all errors found (does not fail-fast).
func Validate(spec *ir.ModelSpec) []ValidationError {
	v := &modelValidator{spec: spec, byName: make(map[string]ir.EntitySpec)}
	v.validate()
	return v.errs
}

type modelValidator struct {
	spec   *ir.ModelSpec
	byName map[string]ir.EntitySpec
	errs   []ValidationError
}

func (v *modelValidator) add(code, field, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

func (v *modelValidator) validate() {
	for _, e := range v.spec.Entities {
		if _, dup := v.byName[e.Name]; dup {
			v.add(ErrDuplicateEntity, "entity."+e.Name, "entity %q declared more than once", e.Name)
			continue
		}
		v.byName[e.Name] = e
	}

	for _, e := range v.spec.Entities {
		v.validateHierarchy(e)
	}
	if len(v.errs) > 0 {
		// Member checks below walk base chains and need them to be sound.
		return
	}

	discriminants := make(map[string]map[string]string)
	for _, e := range v.spec.Entities {
		root := v.root(e)
		field := "entity." + e.Name

		if e.Base != "" && (len(e.Key) > 0 || e.Table != "") {
			v.add(ErrDerivedDeclaresTable, field, "derived type %q must not declare table or key", e.Name)
		}

		if v.hasDerived(root.Name) || root.Name != e.Name {
			if root.Discriminator == "" {
				v.add(ErrMissingDiscriminator, "entity."+root.Name+".discriminator",
					"hierarchy rooted at %q needs a discriminator column", root.Name)
			}
			if !e.Abstract {
				value := discriminatorValue(e)
				if discriminants[root.Name] == nil {
					discriminants[root.Name] = make(map[string]string)
				}
				if other, dup := discriminants[root.Name][value]; dup {
					v.add(ErrDuplicateDiscriminant, field+".discriminator_value",
						"%q and %q share discriminator value %q", other, e.Name, value)
				}
				discriminants[root.Name][value] = e.Name
			}
		}

		if e.Base == "" {
			for _, k := range e.Key {
				p, ok := v.findProperty(e, k)
				if !ok {
					v.add(ErrUnknownKeyProperty, field+".key", "key property %q is not declared", k)
					continue
				}
				if p.Nullable {
					v.add(ErrNullableKey, field+".key", "key property %q must not be nullable", k)
				}
			}
		}
		for i, alt := range e.AlternateKeys {
			for _, k := range alt {
				if _, ok := v.findProperty(e, k); !ok {
					v.add(ErrUnknownKeyProperty, fmt.Sprintf("%s.alternate_keys[%d]", field, i),
						"alternate key property %q is not declared", k)
				}
			}
		}

		v.validateMembers(e)
		for _, nav := range e.Navigations {
			v.validateNavigation(e, nav)
		}
	}
}

func (v *modelValidator) validateHierarchy(e ir.EntitySpec) {
	seen := map[string]bool{e.Name: true}
	cur := e
	for cur.Base != "" {
		base, ok := v.byName[cur.Base]
		if !ok {
			v.add(ErrUnknownBase, "entity."+cur.Name+".base", "base type %q is not declared", cur.Base)
			return
		}
		if seen[base.Name] {
			v.add(ErrInheritanceCycle, "entity."+e.Name+".base", "inheritance chain of %q loops through %q", e.Name, base.Name)
			return
		}
		seen[base.Name] = true
		cur = base
	}
}

func (v *modelValidator) validateMembers(e ir.EntitySpec) {
	names := make(map[string]string)
	for cur, ok := e, true; ok; cur, ok = v.byName[cur.Base] {
		for _, p := range cur.Properties {
			if owner, dup := names[p.Name]; dup {
				v.add(ErrDuplicateMember, "entity."+e.Name, "member %q declared on both %q and %q", p.Name, owner, cur.Name)
			}
			names[p.Name] = cur.Name
		}
		for _, n := range cur.Navigations {
			if owner, dup := names[n.Name]; dup {
				v.add(ErrDuplicateMember, "entity."+e.Name, "member %q declared on both %q and %q", n.Name, owner, cur.Name)
			}
			names[n.Name] = cur.Name
		}
		if cur.Base == "" {
			break
		}
	}
}

func (v *modelValidator) validateNavigation(e ir.EntitySpec, nav ir.NavigationSpec) {
	field := fmt.Sprintf("entity.%s.navigations.%s", e.Name, nav.Name)
	target, ok := v.byName[nav.Target]
	if !ok {
		v.add(ErrUnknownTarget, field, "target %q is not declared", nav.Target)
		return
	}

	dependent, principal := e, target
	if nav.DependentSide() == ir.DependentTarget {
		dependent, principal = target, e
	}

	principalKey := nav.PrincipalKey
	if len(principalKey) == 0 {
		principalKey = v.root(principal).Key
	}
	if len(principalKey) != len(nav.ForeignKey) {
		v.add(ErrKeyArity, field, "foreign key has %d properties but principal key has %d",
			len(nav.ForeignKey), len(principalKey))
		return
	}

	for i := range nav.ForeignKey {
		fk, ok := v.findProperty(dependent, nav.ForeignKey[i])
		if !ok {
			v.add(ErrUnknownFKProperty, field+".foreign_key",
				"property %q is not declared on %q", nav.ForeignKey[i], dependent.Name)
			continue
		}
		pk, ok := v.findProperty(principal, principalKey[i])
		if !ok {
			v.add(ErrUnknownFKProperty, field+".principal_key",
				"property %q is not declared on %q", principalKey[i], principal.Name)
			continue
		}
		if fk.Type != pk.Type {
			v.add(ErrKeyTypeMismatch, field, "%s.%s (%s) does not match %s.%s (%s)",
				dependent.Name, fk.Name, fk.Type, principal.Name, pk.Name, pk.Type)
		}
	}

	if nav.Inverse != "" {
		inv, ok := v.findNavigation(target, nav.Inverse)
		if !ok {
			v.add(ErrInverseMismatch, field+".inverse", "inverse %q is not declared on %q", nav.Inverse, target.Name)
			return
		}
		if inv.Inverse != "" && inv.Inverse != nav.Name {
			v.add(ErrInverseMismatch, field+".inverse", "%s.%s names %q as its inverse", target.Name, inv.Name, inv.Inverse)
		}
		if nav.Collection && inv.Collection {
			v.add(ErrInverseMismatch, field+".inverse", "many-to-many navigations are not supported")
		}
	}
}

// findProperty looks a property up on e and its base chain.
func (v *modelValidator) findProperty(e ir.EntitySpec, name string) (ir.PropertySpec, bool) {
	for cur, ok := e, true; ok; cur, ok = v.byName[cur.Base] {
		if p, found := cur.Property(name); found {
			return p, true
		}
		if cur.Base == "" {
			break
		}
	}
	// Derived types of e share its table; their columns are reachable too.
	for _, other := range v.spec.Entities {
		if other.Name != e.Name && v.isDerivedFrom(other, e.Name) {
			if p, found := other.Property(name); found {
				return p, true
			}
		}
	}
	return ir.PropertySpec{}, false
}

func (v *modelValidator) findNavigation(e ir.EntitySpec, name string) (ir.NavigationSpec, bool) {
	for _, other := range v.spec.Entities {
		if other.Name == e.Name || v.isDerivedFrom(e, other.Name) || v.isDerivedFrom(other, e.Name) {
			for _, n := range other.Navigations {
				if n.Name == name {
					return n, true
				}
			}
		}
	}
	return ir.NavigationSpec{}, false
}

func (v *modelValidator) root(e ir.EntitySpec) ir.EntitySpec {
	cur := e
	for cur.Base != "" {
		base, ok := v.byName[cur.Base]
		if !ok {
			return cur
		}
		cur = base
	}
	return cur
}

func (v *modelValidator) isDerivedFrom(e ir.EntitySpec, ancestor string) bool {
	cur := e
	for cur.Base != "" {
		if cur.Base == ancestor {
			return true
		}
		base, ok := v.byName[cur.Base]
		if !ok {
			return false
		}
		cur = base
	}
	return false
}

func (v *modelValidator) hasDerived(name string) bool {
	for _, e := range v.spec.Entities {
		if e.Base == name {
			return true
		}
	}
	return false
}

func discriminatorValue(e ir.EntitySpec) string {
	if e.DiscriminatorValue != "" {
		return e.DiscriminatorValue
	}
	return e.Name
}
