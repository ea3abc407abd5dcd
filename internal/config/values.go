package config

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// sizeValue is a non-negative integer flag. When optional is set, zero
// means unset and renders as an empty string.
type sizeValue struct {
	dst      *int
	optional bool
}

func (v *sizeValue) String() string {
	if v.dst == nil || (v.optional && *v.dst == 0) {
		return ""
	}
	return strconv.Itoa(*v.dst)
}

func (v *sizeValue) Set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" && v.optional {
		*v.dst = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, s)
	}
	if n < 0 {
		return fmt.Errorf("%w: only positive integers are allowed, got %d", ErrInvalidValue, n)
	}
	*v.dst = n
	return nil
}

func (v *sizeValue) Type() string { return "int" }

// optFloatValue is a float flag whose unset state is NaN.
type optFloatValue struct {
	dst *float64
}

func (v *optFloatValue) String() string {
	if v.dst == nil || math.IsNaN(*v.dst) {
		return ""
	}
	return strconv.FormatFloat(*v.dst, 'g', -1, 64)
}

func (v *optFloatValue) Set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*v.dst = math.NaN()
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not a number", ErrInvalidValue, s)
	}
	*v.dst = f
	return nil
}

func (v *optFloatValue) Type() string { return "float" }

// tupleValue is a fixed-length comma-separated list. All zeros render as unset.
type tupleValue[T int | float64] struct {
	dst []T
}

func (v *tupleValue[T]) String() string {
	if v.dst == nil || !slices.ContainsFunc(v.dst, func(x T) bool { return x != 0 }) {
		return ""
	}
	parts := make([]string, len(v.dst))
	for i, x := range v.dst {
		parts[i] = formatNumber(x)
	}
	return strings.Join(parts, ",")
}

func (v *tupleValue[T]) Set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		clear(v.dst)
		return nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != len(v.dst) {
		return fmt.Errorf("%w: expected %d comma-separated items, got %q", ErrInvalidValue, len(v.dst), s)
	}
	parsed := make([]T, len(parts))
	for i, p := range parts {
		x, err := parseNumber[T](strings.TrimSpace(p))
		if err != nil {
			return fmt.Errorf("%w: expect comma-separated tuple, got %q", ErrInvalidValue, s)
		}
		parsed[i] = x
	}
	copy(v.dst, parsed)
	return nil
}

func (v *tupleValue[T]) Type() string { return "tuple" }

func formatNumber[T int | float64](x T) string {
	switch n := any(x).(type) {
	case int:
		return strconv.Itoa(n)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	}
	return ""
}

func parseNumber[T int | float64](s string) (T, error) {
	var zero T
	switch any(zero).(type) {
	case int:
		n, err := strconv.Atoi(s)
		return T(n), err
	default:
		f, err := strconv.ParseFloat(s, 64)
		return T(f), err
	}
}

// Range is a half-open integer range with a step, written "from[:to[:step]]".
type Range struct {
	From int
	To   int
	Step int
}

// ParseRange parses "a", "a:b" or "a:b:c". A single value a is the range
// [a, a+1).
func ParseRange(s string) (Range, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Range{}, fmt.Errorf("%w: cannot parse range %q", ErrInvalidValue, s)
		}
		nums[i] = n
	}
	var r Range
	switch len(nums) {
	case 1:
		return Range{From: nums[0], To: nums[0] + 1, Step: 1}, nil
	case 2:
		r = Range{From: nums[0], To: nums[1], Step: 1}
	case 3:
		r = Range{From: nums[0], To: nums[1], Step: nums[2]}
	default:
		return Range{}, fmt.Errorf("%w: cannot parse range %q", ErrInvalidValue, s)
	}
	if r.From >= r.To {
		return Range{}, fmt.Errorf("%w: %d must be less than %d", ErrInvalidValue, r.From, r.To)
	}
	if r.Step <= 0 {
		return Range{}, fmt.Errorf("%w: range step must be positive, got %d", ErrInvalidValue, r.Step)
	}
	return r, nil
}

// Values expands the range.
func (r Range) Values() []int {
	var out []int
	for v := r.From; v < r.To; v += max(r.Step, 1) {
		out = append(out, v)
	}
	return out
}

func (r Range) String() string {
	switch {
	case r.To == r.From+1 && r.Step == 1:
		return strconv.Itoa(r.From)
	case r.Step == 1:
		return fmt.Sprintf("%d:%d", r.From, r.To)
	default:
		return fmt.Sprintf("%d:%d:%d", r.From, r.To, r.Step)
	}
}

type rangeValue struct {
	dst *Range
}

func (v *rangeValue) String() string {
	if v.dst == nil {
		return ""
	}
	return v.dst.String()
}

func (v *rangeValue) Set(s string) error {
	r, err := ParseRange(s)
	if err != nil {
		return err
	}
	*v.dst = r
	return nil
}

func (v *rangeValue) Type() string { return "range" }

// enumValue accepts one of a fixed set of choices, case-insensitively.
type enumValue struct {
	dst     *string
	choices []string
}

func (v *enumValue) String() string {
	if v.dst == nil {
		return ""
	}
	return *v.dst
}

func (v *enumValue) Set(s string) error {
	for _, c := range v.choices {
		if strings.EqualFold(c, strings.TrimSpace(s)) {
			*v.dst = c
			return nil
		}
	}
	return fmt.Errorf("%w: %q not one of %s", ErrInvalidValue, s, strings.Join(v.choices, ", "))
}

func (v *enumValue) Type() string { return "string" }
