// Package validate implements the schema-directed parse/validate walker: it
// coerces a raw JSON-shaped value against a schema.Node, applying format
// parsing, optional-fallback semantics, PARSE_RESULT envelopes, and
// collection-item filtering.
package validate

import (
	"fmt"
	"strings"

	"github.com/hanpama/reactivecache/internal/format"
	"github.com/hanpama/reactivecache/internal/schema"
)

// ValidationError is the error raised when a value fails to conform to its
// schema and no fallback applies.
type ValidationError struct {
	Path       string
	Expected   string
	ActualKind string
	ActualValue any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate: %s: expected %s, got %s (%v)", e.Path, e.Expected, e.ActualKind, e.ActualValue)
}

// Warner receives non-fatal parse warnings (optional-fallback triggers,
// filtered collection items). Implementations typically forward to
// internal/querylog.
type Warner interface {
	Warn(msg string, args ...any)
}

// Options configures a Parse call.
type Options struct {
	// SkipFallbacks disables the optional-fallback rule: a mismatched kind
	// always throws rather than warning and returning undefined. Set
	// automatically while parsing inside a PARSE_RESULT envelope.
	SkipFallbacks bool
	Warn          Warner
	Formats       *format.Registry
}

// undefinedMarker is the in-process sentinel representing the schema
// UNDEFINED value (a field entirely absent from its parent), distinct from
// a JSON null. Go's `any` has no native "missing" value, so Parse returns
// this sentinel rather than nil when the fallback rule applies.
type undefinedMarker struct{}

// Undefined is the value Parse/normalize returns in place of a field that
// does not exist in the input and whose schema tolerates that (UNDEFINED in
// the mask).
var Undefined any = undefinedMarker{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedMarker)
	return ok
}

// ParseResult is the discriminated envelope produced when schema carries
// PARSE_RESULT.
type ParseResult struct {
	Success bool
	Value   any
	Error   error
}

// Parse walks raw under schema at path, applying a fixed rule ordering:
// literal sets, typename literals, primitive masks, then complex nodes.
// SkipFallbacks forces every kind mismatch to fail hard rather than fall
// back to Undefined, used recursively inside a PARSE_RESULT envelope and
// for array elements that must not themselves be filtered.
func Parse(raw any, node *schema.Node, path string, opts Options) (any, error) {
	switch node.Kind {
	case schema.KindLiteralSet:
		return parseLiteralSet(raw, node, path, opts)
	case schema.KindTypename:
		return parseTypename(raw, node, path, opts)
	case schema.KindPrimitive:
		return parsePrimitive(raw, node, path, opts)
	default:
		return parseComplex(raw, node, path, opts)
	}
}

func kindName(raw any) string {
	switch raw.(type) {
	case nil:
		return "null"
	case undefinedMarker:
		return "undefined"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", raw)
	}
}

func actualMask(raw any) schema.Mask {
	switch raw.(type) {
	case nil:
		return schema.NULL
	case undefinedMarker:
		return schema.UNDEFINED
	case string:
		return schema.STRING
	case bool:
		return schema.BOOLEAN
	case float64, int, int64:
		return schema.NUMBER
	case []any:
		return schema.ARRAY
	case map[string]any:
		return schema.OBJECT
	default:
		return 0
	}
}

func warnf(opts Options, format string, args ...any) {
	if opts.Warn != nil {
		opts.Warn.Warn(fmt.Sprintf(format, args...))
	}
}

// parseLiteralSet implements rule 1 (case-insensitive) and rule 2 (exact).
func parseLiteralSet(raw any, node *schema.Node, path string, opts Options) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return fallbackOrError(node, path, raw, "one of the schema's literal values", opts)
	}
	key := s
	if node.CaseInsensitive {
		key = strings.ToLower(s)
	}
	canonical, ok := node.Literals[key]
	if !ok {
		return fallbackOrError(node, path, raw, "one of the schema's literal values", opts)
	}
	return canonical, nil
}

// parseTypename implements rule 3: undefined/null hydrate to the literal
// itself, otherwise the value must equal it exactly.
func parseTypename(raw any, node *schema.Node, path string, opts Options) (any, error) {
	if raw == nil || IsUndefined(raw) {
		return node.TypenameValue, nil
	}
	if s, ok := raw.(string); ok && s == node.TypenameValue {
		return s, nil
	}
	return fallbackOrError(node, path, raw, fmt.Sprintf("typename %q", node.TypenameValue), opts)
}

// parsePrimitive implements rule 4: mask membership, optional fallback,
// then format parsing.
func parsePrimitive(raw any, node *schema.Node, path string, opts Options) (any, error) {
	am := actualMask(raw)
	if !node.Mask.Has(am) {
		return fallbackOrError(node, path, raw, renderMask(node.Mask), opts)
	}
	if node.Mask.Has(schema.HAS_STRING_FORMAT) && am == schema.STRING ||
		node.Mask.Has(schema.HAS_NUMBER_FORMAT) && am == schema.NUMBER {
		d, ok := formatFor(node.Mask, opts)
		if !ok {
			return nil, &ValidationError{Path: path, Expected: renderMask(node.Mask), ActualKind: kindName(raw), ActualValue: raw}
		}
		parsed, err := d.Parse(raw)
		if err != nil {
			return fallbackOrError(node, path, raw, renderMask(node.Mask), opts)
		}
		return parsed, nil
	}
	return raw, nil
}

// parseComplex implements rule 5: PARSE_RESULT, union, array, record,
// object/entity.
func parseComplex(raw any, node *schema.Node, path string, opts Options) (any, error) {
	if node.Mask.Has(schema.PARSE_RESULT) {
		inner := opts
		inner.SkipFallbacks = true
		stripped := withoutParseResult(node)
		value, err := Parse(raw, stripped, path, inner)
		if err != nil {
			return ParseResult{Success: false, Error: err}, nil
		}
		return ParseResult{Success: true, Value: value}, nil
	}

	am := actualMask(raw)
	if !node.Mask.Has(am) {
		return fallbackOrError(node, path, raw, renderMask(node.Mask), opts)
	}

	switch node.Kind {
	case schema.KindUnion, schema.KindPrimitiveUnion:
		return parseUnion(raw, node, path, opts)
	case schema.KindArray:
		return parseArray(raw, node, path, opts)
	case schema.KindRecord:
		return parseRecord(raw, node, path, opts)
	case schema.KindObject, schema.KindEntity:
		return parseObject(raw, node, path, opts)
	default:
		return raw, nil
	}
}

func parseUnion(raw any, node *schema.Node, path string, opts Options) (any, error) {
	if arr, ok := raw.([]any); ok {
		if branch, hasArrayBranch := node.ArrayBranch(); hasArrayBranch {
			return Parse(arr, branch, path, opts)
		}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return fallbackOrError(node, path, raw, "union", opts)
	}
	typenameField := discriminatorFieldName(node)
	if typenameField != "" {
		tv, present := m[typenameField]
		if !present {
			return nil, &ValidationError{Path: path, Expected: "required for union discrimination", ActualKind: kindName(raw), ActualValue: raw}
		}
		s, _ := tv.(string)
		branch, ok := node.DiscriminatorBranch(s)
		if !ok {
			return nil, &ValidationError{Path: path, Expected: "known union typename", ActualKind: "unknown typename", ActualValue: s}
		}
		return Parse(raw, branch, path, opts)
	}
	if branch, ok := node.RecordBranch(); ok {
		return Parse(raw, branch, path, opts)
	}
	return nil, &ValidationError{Path: path, Expected: "required for union discrimination", ActualKind: kindName(raw), ActualValue: raw}
}

// discriminatorFieldName finds the typename field name from any branch,
// since every object branch shares the same discriminator field name by
// construction, since union merge rejects conflicting discriminator names.
func discriminatorFieldName(node *schema.Node) string {
	for _, b := range node.Branches {
		switch b.Kind {
		case schema.KindObject, schema.KindEntity:
			if b.TypenameField != "" {
				return b.TypenameField
			}
		case schema.KindUnion, schema.KindPrimitiveUnion:
			if name := discriminatorFieldName(b); name != "" {
				return name
			}
		}
	}
	return ""
}

func parseArray(raw any, node *schema.Node, path string, opts Options) (any, error) {
	arr, ok := raw.([]any)
	if !ok {
		return fallbackOrError(node, path, raw, "array", opts)
	}
	out := make([]any, 0, len(arr))
	for i, item := range arr {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		parsed, err := Parse(item, node.Child, itemPath, opts)
		if err != nil {
			if opts.SkipFallbacks {
				return nil, err
			}
			warnf(opts, "validate: dropping invalid array item at %s: %v", itemPath, err)
			continue
		}
		out = append(out, parsed)
	}
	return out, nil
}

func parseRecord(raw any, node *schema.Node, path string, opts Options) (any, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return fallbackOrError(node, path, raw, "record", opts)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		parsed, err := Parse(v, node.Child, fmt.Sprintf("%s[%q]", path, k), opts)
		if err != nil {
			return nil, err
		}
		out[k] = parsed
	}
	return out, nil
}

func parseObject(raw any, node *schema.Node, path string, opts Options) (any, error) {
	if m, ok := raw.(map[string]any); ok {
		if _, hasRef := m["__entityRef"]; hasRef {
			return raw, nil
		}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return fallbackOrError(node, path, raw, "object", opts)
	}
	out := make(map[string]any, len(node.Shape()))
	for _, f := range node.Shape() {
		raw, present := m[f.Name]
		if !present {
			raw = Undefined
		}
		childPath := path + "." + f.Name
		if path == "" {
			childPath = f.Name
		}
		parsed, err := Parse(raw, f.Node, childPath, opts)
		if err != nil {
			return nil, err
		}
		if IsUndefined(parsed) {
			continue
		}
		out[f.Name] = parsed
	}
	return out, nil
}

// fallbackOrError applies the optional-fallback rule: if the schema allows
// UNDEFINED and fallbacks are not suppressed, warn and return Undefined;
// otherwise return a ValidationError.
func fallbackOrError(node *schema.Node, path string, raw any, expected string, opts Options) (any, error) {
	if node.Mask.Has(schema.UNDEFINED) && !opts.SkipFallbacks {
		warnf(opts, "validate: %s did not match %s, falling back to undefined", path, expected)
		return Undefined, nil
	}
	return nil, &ValidationError{Path: path, Expected: expected, ActualKind: kindName(raw), ActualValue: raw}
}

func formatFor(mask schema.Mask, opts Options) (*format.Descriptor, bool) {
	reg := opts.Formats
	if reg == nil {
		reg = format.Default
	}
	return reg.ByID(formatIDOf(mask))
}

// formatIDOf mirrors schema's unexported accessor of the same name; it is
// redefined here because the bit layout is part of the public mask
// contract both packages share without one importing the other's
// internals.
func formatIDOf(m schema.Mask) format.ID {
	return format.ID((m >> 32) & 0xFFFF)
}

// withoutParseResult returns a variant of node without the PARSE_RESULT
// bit, used to recurse into the wrapped schema once per Parse call.
func withoutParseResult(node *schema.Node) *schema.Node {
	clone := *node
	clone.Mask = node.Mask &^ schema.PARSE_RESULT
	return &clone
}

func renderMask(m schema.Mask) string {
	var parts []string
	add := func(bit schema.Mask, name string) {
		if m.Has(bit) {
			parts = append(parts, name)
		}
	}
	add(schema.STRING, "string")
	add(schema.NUMBER, "number")
	add(schema.BOOLEAN, "boolean")
	add(schema.NULL, "null")
	add(schema.UNDEFINED, "undefined")
	add(schema.OBJECT, "object")
	add(schema.ARRAY, "array")
	add(schema.RECORD, "record")
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
