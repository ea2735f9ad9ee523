// Package format applies the rendering directives a binding target may carry:
// raw, fixed:N, scientific:N, percent and display.
package format

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/paramgraph/internal/param"
)

// Kind enumerates the directives.
type Kind int

const (
	Raw Kind = iota
	Fixed
	Scientific
	Percent
	Display
)

var kindNames = map[Kind]string{
	Raw:        "raw",
	Fixed:      "fixed",
	Scientific: "scientific",
	Percent:    "percent",
	Display:    "display",
}

func (k Kind) String() string {
	return kindNames[k]
}

// maxDigits bounds N in fixed:N and scientific:N.
const maxDigits = 20

// Directive is a parsed formatting directive.
type Directive struct {
	Kind   Kind
	Digits int // for Fixed and Scientific
}

func (d Directive) String() string {
	switch d.Kind {
	case Fixed, Scientific:
		return fmt.Sprintf("%s:%d", d.Kind, d.Digits)
	default:
		return d.Kind.String()
	}
}

// DirectiveError reports an unrecognised directive. It is never fatal: the
// value is rendered raw instead.
type DirectiveError struct {
	Directive string
	Reason    string
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("format directive %q: %s; rendering raw", e.Directive, e.Reason)
}

// IsDirectiveError reports whether err is (or wraps) a DirectiveError.
func IsDirectiveError(err error) bool {
	var de *DirectiveError
	return errors.As(err, &de)
}

// Parse parses a directive. The empty string is Raw.
// An unrecognised directive returns Raw together with a *DirectiveError.
func Parse(s string) (Directive, error) {
	text := strings.TrimSpace(s)
	name, arg, hasArg := strings.Cut(text, ":")

	switch name {
	case "", "raw":
		if hasArg {
			return Directive{Kind: Raw}, &DirectiveError{Directive: s, Reason: "raw takes no argument"}
		}
		return Directive{Kind: Raw}, nil
	case "percent", "display":
		if hasArg {
			return Directive{Kind: Raw}, &DirectiveError{Directive: s, Reason: name + " takes no argument"}
		}
		if name == "percent" {
			return Directive{Kind: Percent}, nil
		}
		return Directive{Kind: Display}, nil
	case "fixed", "scientific":
		if !hasArg {
			return Directive{Kind: Raw}, &DirectiveError{Directive: s, Reason: name + " needs a digit count"}
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 || n > maxDigits {
			return Directive{Kind: Raw}, &DirectiveError{Directive: s, Reason: fmt.Sprintf("digit count must be 0..%d", maxDigits)}
		}
		if name == "fixed" {
			return Directive{Kind: Fixed, Digits: n}, nil
		}
		return Directive{Kind: Scientific, Digits: n}, nil
	default:
		return Directive{Kind: Raw}, &DirectiveError{Directive: s, Reason: "unknown directive"}
	}
}

// Apply renders v under d. Text values always render raw.
func (d Directive) Apply(v param.Value) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", fmt.Errorf("format: no value")
	case param.Text:
		return string(val), nil
	case param.Number:
		return d.number(float64(val))
	default:
		return "", fmt.Errorf("format: unsupported value %T", v)
	}
}

func (d Directive) number(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("format: non-finite number %v", f)
	}
	switch d.Kind {
	case Fixed:
		return strconv.FormatFloat(f, 'f', d.Digits, 64), nil
	case Scientific:
		return strconv.FormatFloat(f, 'e', d.Digits, 64), nil
	case Percent:
		s := strconv.FormatFloat(f*100, 'f', 2, 64)
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
		if s == "-0" {
			s = "0"
		}
		return s + "%", nil
	case Display:
		return display(f), nil
	default:
		return param.FormatNumber(f)
	}
}

var printer = message.NewPrinter(language.English)

// display renders a human-friendly number: grouped integers, up to four
// significant decimals for fractions, scientific notation for very large
// or very small magnitudes.
func display(f float64) string {
	abs := math.Abs(f)
	switch {
	case f == 0:
		return "0"
	case abs >= 1e15 || abs < 1e-4:
		return strconv.FormatFloat(f, 'e', 3, 64)
	case f == math.Trunc(f):
		return printer.Sprintf("%d", int64(f))
	default:
		s := printer.Sprintf("%.4f", f)
		return strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
}

// Render parses directive and applies it to v. An unrecognised directive
// still renders (raw) and is reported through warn, which may be nil.
func Render(v param.Value, directive string) (text string, warn error, err error) {
	d, warn := Parse(directive)
	text, err = d.Apply(v)
	return text, warn, err
}
