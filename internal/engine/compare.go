package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/navq/internal/catalog"
	"github.com/roach88/navq/internal/object"
	"github.com/roach88/navq/internal/relational"
)

// identity encodes v so that values equal under query semantics encode
// equal: entities by hierarchy and key, records field by field, numbers
// across int and float.
func identity(cat *catalog.Catalog, v any) string {
	var b strings.Builder
	writeIdentity(&b, cat, v)
	return b.String()
}

func writeIdentity(b *strings.Builder, cat *catalog.Catalog, v any) {
	switch v := v.(type) {
	case nil:
		b.WriteString("null")
	case *object.Entity:
		if v == nil {
			b.WriteString("null")
			return
		}
		t, _ := cat.Entity(v.Type)
		b.WriteString(cat.Root(t).Name)
		b.WriteByte('(')
		for i, p := range cat.KeyProperties(t) {
			if i > 0 {
				b.WriteByte(',')
			}
			writeIdentity(b, cat, v.Properties[p.Name])
		}
		b.WriteByte(')')
	case *object.Record:
		b.WriteByte('{')
		for i, name := range v.Names {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(name)
			b.WriteByte('=')
			writeIdentity(b, cat, v.Values[i])
		}
		b.WriteByte('}')
	case *object.Grouping:
		b.WriteString("group:")
		writeIdentity(b, cat, v.Key)
	case []any:
		b.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			writeIdentity(b, cat, e)
		}
		b.WriteByte(']')
	case int64:
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 64))
	case float64:
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case string:
		b.WriteString(strconv.Quote(v))
	default:
		fmt.Fprintf(b, "%v", v)
	}
}

// compareValues orders two values for OrderBy: null first, entities by
// key, records field by field, scalars by relational.Compare.
func compareValues(cat *catalog.Catalog, a, b any) (int, error) {
	switch {
	case isNull(a) && isNull(b):
		return 0, nil
	case isNull(a):
		return -1, nil
	case isNull(b):
		return 1, nil
	}
	switch av := a.(type) {
	case *object.Entity:
		bv, ok := b.(*object.Entity)
		if !ok {
			return 0, fmt.Errorf("cannot compare an entity with %T", b)
		}
		t, _ := cat.Entity(av.Type)
		for _, p := range cat.KeyProperties(t) {
			c, err := compareValues(cat, av.Properties[p.Name], bv.Properties[p.Name])
			if c != 0 || err != nil {
				return c, err
			}
		}
		return 0, nil
	case *object.Record:
		bv, ok := b.(*object.Record)
		if !ok || len(bv.Values) != len(av.Values) {
			return 0, fmt.Errorf("cannot compare records of different shape")
		}
		for i := range av.Values {
			c, err := compareValues(cat, av.Values[i], bv.Values[i])
			if c != 0 || err != nil {
				return c, err
			}
		}
		return 0, nil
	}
	return relational.Compare(a, b)
}

// isNull reports whether v is nil or a nil entity.
func isNull(v any) bool {
	if v == nil {
		return true
	}
	e, ok := v.(*object.Entity)
	return ok && e == nil
}

// keysEqual compares join keys with relational semantics: a null
// component matches nothing.
func keysEqual(cat *catalog.Catalog, a, b any) bool {
	if isNull(a) || isNull(b) {
		return false
	}
	if ar, ok := a.(*object.Record); ok {
		br, ok := b.(*object.Record)
		if !ok || len(ar.Values) != len(br.Values) {
			return false
		}
		for i := range ar.Values {
			if !keysEqual(cat, ar.Values[i], br.Values[i]) {
				return false
			}
		}
		return true
	}
	return identity(cat, a) == identity(cat, b)
}
