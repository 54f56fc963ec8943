package validate

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hanpama/reactivecache/internal/schema"
)

type recordingWarner struct{ msgs []string }

func (w *recordingWarner) Warn(msg string, args ...any) {
	w.msgs = append(w.msgs, fmt.Sprintf(msg, args...))
}

// Rule 1 + 2: literal sets, case-insensitive and exact.

func TestParse_LiteralSet_ExactMatchReturnsCanonical(t *testing.T) {
	node := schema.Enum("ACTIVE", "CLOSED")
	v, err := Parse("ACTIVE", node, "status", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ACTIVE" {
		t.Fatalf("expected %q, got %v", "ACTIVE", v)
	}
}

func TestParse_LiteralSet_CaseInsensitiveMatchReturnsCanonical(t *testing.T) {
	node := schema.EnumCaseInsensitive("Active", "Closed")
	v, err := Parse("aCtIvE", node, "status", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "Active" {
		t.Fatalf("expected the canonical form %q, got %v", "Active", v)
	}
}

func TestParse_LiteralSet_MismatchFallsBackWhenOptional(t *testing.T) {
	node := schema.Optional(schema.Enum("ACTIVE"))
	warn := &recordingWarner{}
	v, err := Parse("UNKNOWN", node, "status", Options{Warn: warn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsUndefined(v) {
		t.Fatalf("expected the fallback rule to return Undefined, got %v", v)
	}
	if len(warn.msgs) != 1 {
		t.Fatalf("expected exactly one fallback warning, got %d", len(warn.msgs))
	}
}

func TestParse_LiteralSet_MismatchErrorsWhenNotOptional(t *testing.T) {
	node := schema.Enum("ACTIVE")
	_, err := Parse("UNKNOWN", node, "status", Options{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a *ValidationError, got %v", err)
	}
}

// Rule 3: typename.

func TestParse_Typename_HydratesFromUndefinedAndNull(t *testing.T) {
	node := schema.Typename("User")
	for _, raw := range []any{nil, Undefined} {
		v, err := Parse(raw, node, "__typename", Options{})
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", raw, err)
		}
		if v != "User" {
			t.Fatalf("expected hydration to %q for %v, got %v", "User", raw, v)
		}
	}
}

func TestParse_Typename_MismatchErrors(t *testing.T) {
	node := schema.Typename("User")
	_, err := Parse("Organization", node, "__typename", Options{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a *ValidationError, got %v", err)
	}
}

// Rule 4: primitive mask, optional fallback, and format parsing.

func TestParse_Primitive_MaskMismatch(t *testing.T) {
	cases := []struct {
		name      string
		node      *schema.Node
		raw       any
		wantErr   bool
		wantUndef bool
	}{
		{name: "string matches string mask", node: schema.String(), raw: "hi", wantErr: false},
		{name: "number fails string mask", node: schema.String(), raw: 1.0, wantErr: true},
		{name: "number falls back when optional", node: schema.Optional(schema.String()), raw: 1.0, wantUndef: true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v, err := Parse(c.raw, c.node, "field", Options{})
			if c.wantErr {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("expected a *ValidationError, got %v / %v", err, v)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.wantUndef && !IsUndefined(v) {
				t.Fatalf("expected Undefined, got %v", v)
			}
		})
	}
}

func TestParse_Primitive_FormatParsesString(t *testing.T) {
	node := &schema.Node{Kind: schema.KindPrimitive, Mask: schema.Format(nil, "date")}
	v, err := Parse("2024-01-15", node, "createdAt", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := v.(interface{ Unix() int64 }); !ok {
		t.Fatalf("expected a parsed time value, got %T", v)
	}
}

func TestParse_Primitive_FormatFailureFallsBackWhenOptional(t *testing.T) {
	node := schema.Optional(&schema.Node{Kind: schema.KindPrimitive, Mask: schema.Format(nil, "date")})
	warn := &recordingWarner{}
	v, err := Parse("not-a-date", node, "createdAt", Options{Warn: warn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsUndefined(v) {
		t.Fatalf("expected a format parse failure to fall back to Undefined, got %v", v)
	}
	if len(warn.msgs) != 1 {
		t.Fatalf("expected exactly one fallback warning, got %d", len(warn.msgs))
	}
}

func TestParse_Primitive_FormatFailureErrorsWhenNotOptional(t *testing.T) {
	node := &schema.Node{Kind: schema.KindPrimitive, Mask: schema.Format(nil, "date")}
	_, err := Parse("not-a-date", node, "createdAt", Options{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a *ValidationError, got %v", err)
	}
}

// Rule 5: complex dispatch (object, array, record, union).

func itemShape() map[string]*schema.Node {
	return map[string]*schema.Node{
		"__typename": schema.Typename("Item"),
		"id":         schema.IDField(),
		"name":       schema.String(),
		"note":       schema.Optional(schema.String()),
	}
}

func TestParse_Object_DropsAbsentOptionalFieldsKeepsPresentOnes(t *testing.T) {
	node := schema.Entity(itemShape)
	raw := map[string]any{"__typename": "Item", "id": "1", "name": "a"}
	v, err := Parse(raw, node, "", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected a map, got %T", v)
	}
	if _, present := m["note"]; present {
		t.Fatalf("expected an absent optional field to be dropped from the parsed object, got %v", m["note"])
	}
	if m["name"] != "a" {
		t.Fatalf("expected name to be preserved, got %v", m["name"])
	}
}

func TestParse_Object_EntityRefPassesThroughUnparsed(t *testing.T) {
	node := schema.Entity(itemShape)
	raw := map[string]any{"__entityRef": "Item:1"}
	v, err := Parse(raw, node, "", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["__entityRef"] != "Item:1" {
		t.Fatalf("expected an __entityRef stub to pass through unchanged, got %v", v)
	}
}

func TestParse_Array_FiltersInvalidItemsAndWarns(t *testing.T) {
	node := schema.Array(schema.String())
	warn := &recordingWarner{}
	v, err := Parse([]any{"a", 1.0, "b"}, node, "items", Options{Warn: warn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr, ok := v.([]any)
	if !ok {
		t.Fatalf("expected a slice, got %T", v)
	}
	if len(arr) != 2 || arr[0] != "a" || arr[1] != "b" {
		t.Fatalf("expected the invalid item to be filtered out, got %v", arr)
	}
	if len(warn.msgs) != 1 {
		t.Fatalf("expected exactly one drop warning, got %d", len(warn.msgs))
	}
}

func TestParse_Array_PropagatesErrorWhenSkipFallbacksIsSet(t *testing.T) {
	node := schema.Array(schema.String())
	_, err := Parse([]any{"a", 1.0}, node, "items", Options{SkipFallbacks: true})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a *ValidationError to propagate instead of being filtered, got %v", err)
	}
}

func TestParse_Record_ParsesEachValueUnderChild(t *testing.T) {
	node := schema.Record(schema.Number())
	v, err := Parse(map[string]any{"a": 1.0, "b": 2.0}, node, "counts", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["a"] != 1.0 || m["b"] != 2.0 {
		t.Fatalf("expected each value parsed under the record's child node, got %v", v)
	}
}

func TestParse_Union_DiscriminatesByTypename(t *testing.T) {
	node := schema.Union(
		schema.Entity(func() map[string]*schema.Node {
			return map[string]*schema.Node{"__typename": schema.Typename("Cat"), "id": schema.IDField(), "meow": schema.Boolean()}
		}),
		schema.Entity(func() map[string]*schema.Node {
			return map[string]*schema.Node{"__typename": schema.Typename("Dog"), "id": schema.IDField(), "bark": schema.Boolean()}
		}),
	)
	node.ShapeKey() // reify, as Client.materialize does before first use
	v, err := Parse(map[string]any{"__typename": "Dog", "id": "1", "bark": true}, node, "pet", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["__typename"] != "Dog" || m["bark"] != true {
		t.Fatalf("expected the Dog branch to be selected, got %v", v)
	}
}

func TestParse_Union_UnknownTypenameErrors(t *testing.T) {
	node := schema.Union(
		schema.Entity(func() map[string]*schema.Node {
			return map[string]*schema.Node{"__typename": schema.Typename("Cat"), "id": schema.IDField()}
		}),
	)
	node.ShapeKey() // reify, as Client.materialize does before first use
	_, err := Parse(map[string]any{"__typename": "Bird", "id": "1"}, node, "pet", Options{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected a *ValidationError for an unknown discriminator, got %v", err)
	}
}

// PARSE_RESULT envelope. The mask bit only takes effect through
// parseComplex's dispatch, so it wraps a structural node (object, array,
// union, record) rather than a bare primitive, whose Kind routes straight
// to parsePrimitive in Parse's switch.

func resultWrappedRow() *schema.Node {
	return schema.Result(schema.Object(map[string]*schema.Node{"v": schema.String()}))
}

func TestParse_ParseResult_WrapsSuccess(t *testing.T) {
	node := resultWrappedRow()
	v, err := Parse(map[string]any{"v": "ok"}, node, "row", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pr, ok := v.(ParseResult)
	if !ok || !pr.Success {
		t.Fatalf("expected a successful ParseResult, got %+v", v)
	}
	m, ok := pr.Value.(map[string]any)
	if !ok || m["v"] != "ok" {
		t.Fatalf("expected the wrapped value to be the parsed object, got %+v", pr.Value)
	}
}

func TestParse_ParseResult_WrapsFailureWithoutPropagatingError(t *testing.T) {
	node := resultWrappedRow()
	v, err := Parse(123.0, node, "row", Options{})
	if err != nil {
		t.Fatalf("expected PARSE_RESULT to swallow the inner error, got %v", err)
	}
	pr, ok := v.(ParseResult)
	if !ok || pr.Success || pr.Error == nil {
		t.Fatalf("expected a failed ParseResult carrying the inner error, got %+v", v)
	}
}

// A PARSE_RESULT-wrapped array element that fails to parse is kept in the
// array as a failed envelope, not dropped the way a plain mismatched element
// would be, since parseComplex's PARSE_RESULT branch never returns a
// non-nil error for parseArray to filter on.
func TestParse_ParseResult_ArrayKeepsFailedElementInsteadOfFiltering(t *testing.T) {
	node := schema.Array(resultWrappedRow())
	v, err := Parse([]any{map[string]any{"v": "ok"}, 123.0}, node, "items", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		t.Fatalf("expected both elements to survive as ParseResult envelopes, got %v", v)
	}
	first, ok := arr[0].(ParseResult)
	if !ok || !first.Success {
		t.Fatalf("expected the first element to be a successful ParseResult, got %+v", arr[0])
	}
	second, ok := arr[1].(ParseResult)
	if !ok || second.Success {
		t.Fatalf("expected the second element to be a failed ParseResult kept in place, got %+v", arr[1])
	}
}
