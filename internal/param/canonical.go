package param

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces canonical JSON for snapshots and digests.
// CRITICAL: This is the ONLY serialization used for exported artifacts.
//
// Differences from standard json.Marshal:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
//  4. Numbers use FormatNumber; NaN and Inf are rejected
//  5. No null (returns error)
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return writeCanonicalString(buf, val)
	case Text:
		return writeCanonicalString(buf, string(val))
	case Number:
		return writeCanonicalNumber(buf, float64(val))
	case float64:
		return writeCanonicalNumber(buf, val)
	case int:
		buf.WriteString(strconv.Itoa(val))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
		return nil
	case bool:
		buf.WriteString(strconv.FormatBool(val))
		return nil
	case []string:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		return writeCanonicalObject(buf, val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func writeCanonicalNumber(buf *bytes.Buffer, f float64) error {
	s, err := FormatNumber(f)
	if err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

// writeCanonicalObject writes an object with RFC 8785 key ordering.
func writeCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(buf, k); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, obj[k]); err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeCanonicalString writes a JSON string with NFC normalization.
// Only control characters, backslash and quote are escaped; U+2028 and
// U+2029 are written literally.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false) // CRITICAL: <, >, & must NOT be escaped
	if err := enc.Encode(normalized); err != nil {
		return err
	}

	// json.Encoder adds trailing newline, remove it
	out := bytes.TrimSuffix(tmp.Bytes(), []byte("\n"))
	buf.Write(unescapeLineSeparators(out))
	return nil
}

// unescapeLineSeparators converts \u2028 and \u2029 escapes back to literal
// characters, leaving \\u2028 (escaped backslash followed by text) alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	result := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			// Count the backslashes already emitted right before this one.
			backslashes := 0
			for j := len(result) - 1; j >= 0 && result[j] == '\\'; j-- {
				backslashes++
			}
			if backslashes%2 == 0 {
				if data[i+5] == '8' {
					result = append(result, "\u2028"...)
				} else {
					result = append(result, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		result = append(result, data[i])
	}
	return result
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering.
// CRITICAL: Go's default string comparison uses UTF-8 which produces a
// DIFFERENT order for characters outside the BMP.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// MarshalSnapshot produces the canonical artifact bytes for s.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	tree, err := snapshotTree(s, true)
	if err != nil {
		return nil, err
	}
	return MarshalCanonical(tree)
}

// snapshotTree converts a snapshot to plain maps for canonical encoding.
// With stamps=false the version, generatedAt and digest fields are left out,
// which is the body the digest is computed over.
func snapshotTree(s *Snapshot, stamps bool) (map[string]any, error) {
	categories := make(map[string]any, len(s.Categories))
	for category, keys := range s.Categories {
		params := make(map[string]any, len(keys))
		for key, p := range keys {
			tree, err := parameterTree(p)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", category, key, err)
			}
			params[key] = tree
		}
		categories[category] = params
	}

	provenance := make(map[string]any, len(s.ProvenanceGraph))
	for path, deps := range s.ProvenanceGraph {
		provenance[path] = nonNilStrings(deps)
	}

	warnings := make([]any, 0, len(s.Diagnostics.Warnings))
	for _, w := range s.Diagnostics.Warnings {
		entry := map[string]any{
			"code":    w.Code,
			"message": w.Message,
		}
		if len(w.Paths) > 0 {
			entry["paths"] = w.Paths
		}
		warnings = append(warnings, entry)
	}

	unavailable := make([]any, 0, len(s.Diagnostics.Unavailable))
	for _, u := range s.Diagnostics.Unavailable {
		entry := map[string]any{
			"entry":  u.Entry,
			"path":   u.Path,
			"reason": u.Reason,
		}
		if u.Cause != "" {
			entry["cause"] = u.Cause
		}
		unavailable = append(unavailable, entry)
	}

	tree := map[string]any{
		"categories":      categories,
		"provenanceGraph": provenance,
		"diagnostics": map[string]any{
			"warnings":    warnings,
			"unavailable": unavailable,
		},
	}
	if stamps {
		tree["version"] = s.Version
		tree["generatedAt"] = s.GeneratedAt.UTC().Format(time.RFC3339Nano)
		if s.Digest != "" {
			tree["digest"] = s.Digest
		}
	}
	return tree, nil
}

// parameterTree converts a parameter to a plain map, omitting empty fields.
func parameterTree(p Parameter) (map[string]any, error) {
	if p.Value == nil {
		return nil, fmt.Errorf("parameter has no value")
	}
	tree := map[string]any{
		"value":  p.Value,
		"source": p.Source,
	}
	if p.Unit != "" {
		tree["unit"] = p.Unit
	}
	if p.Formula != "" {
		tree["formula"] = p.Formula
	}
	if p.Derivation != "" {
		tree["derivation"] = p.Derivation
	}
	if p.Uncertainty != nil {
		tree["uncertainty"] = p.Uncertainty
	}
	if p.Experimental != nil && p.Experimental.Value != nil {
		exp := map[string]any{"value": p.Experimental.Value}
		if p.Experimental.Uncertainty != nil {
			exp["uncertainty"] = p.Experimental.Uncertainty
		}
		if p.Experimental.Source != "" {
			exp["source"] = p.Experimental.Source
		}
		tree["experimental"] = exp
	}
	if len(p.References) > 0 {
		tree["references"] = p.References
	}
	return tree, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
