package param

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Value is a sealed interface representing a parameter value.
// Only Number and Text implement it.
type Value interface {
	paramValue() // Sealed - only these types implement it
}

// Number is a numeric parameter value.
type Number float64

func (Number) paramValue() {}

// Text is a textual parameter value.
type Text string

func (Text) paramValue() {}

// Float returns the numeric value of v.
// ok is false for Text values and nil.
func Float(v Value) (f float64, ok bool) {
	n, ok := v.(Number)
	return float64(n), ok
}

// Equal reports whether two values are identical.
// Numbers compare by bit pattern so that round-tripped values match exactly.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Number:
		bv, ok := b.(Number)
		return ok && math.Float64bits(float64(av)) == math.Float64bits(float64(bv))
	case Text:
		bv, ok := b.(Text)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return false
	}
}

// FormatNumber renders a float in the canonical textual form.
// Integral values below 1e21 print without exponent; everything else uses
// the shortest representation that round-trips.
func FormatNumber(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite number %v cannot be encoded", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		if f == 0 {
			return "0", nil // also folds -0
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

// MarshalJSON implements json.Marshaler for Number.
func (n Number) MarshalJSON() ([]byte, error) {
	s, err := FormatNumber(float64(n))
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// MarshalValue marshals a Value to JSON bytes.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Number:
		return val.MarshalJSON()
	case Text:
		return json.Marshal(string(val))
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// UnmarshalValue decodes a JSON number or string into a Value.
// Any other JSON kind is rejected.
func UnmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return Text(s), nil
	case '{', '[', 't', 'f', 'n':
		return nil, fmt.Errorf("parameter value must be a number or string, got %s", string(data))
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %s: %w", string(data), err)
		}
		return Number(f), nil
	}
}

// FromAny converts a plain Go value into a Value.
// Integers are widened to float64.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case Value:
		return val, nil
	case float64:
		return Number(val), nil
	case float32:
		return Number(float64(val)), nil
	case int:
		return Number(float64(val)), nil
	case int64:
		return Number(float64(val)), nil
	case int32:
		return Number(float64(val)), nil
	case uint64:
		return Number(float64(val)), nil
	case string:
		return Text(val), nil
	case nil:
		return nil, fmt.Errorf("null is not a parameter value")
	default:
		return nil, fmt.Errorf("unsupported parameter value type: %T", v)
	}
}

// ToAny converts a Value into its plain Go form (float64 or string).
func ToAny(v Value) any {
	switch val := v.(type) {
	case Number:
		return float64(val)
	case Text:
		return string(val)
	default:
		return nil
	}
}
