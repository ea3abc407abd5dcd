package tofu

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrUnknownProperty indicates a property name a task does not expose.
	ErrUnknownProperty = errors.New("tofu: unknown property")
	// ErrInvalidProperty indicates a value that cannot be converted or is out of range.
	ErrInvalidProperty = errors.New("tofu: invalid property value")
)

// Properties maps property names to values, as read from graph files or built by callers.
type Properties map[string]any

// PropertyKind names the value type of a property.
type PropertyKind string

const (
	KindFloat  PropertyKind = "float"
	KindInt    PropertyKind = "int"
	KindBool   PropertyKind = "bool"
	KindString PropertyKind = "string"
	KindEnum   PropertyKind = "enum"
)

type property struct {
	name    string
	kind    PropertyKind
	choices []string
	get     func() any
	set     func(any) error
}

// PropertySet binds property names to typed task fields.
type PropertySet struct {
	order []string
	props map[string]*property
}

// NewPropertySet returns an empty property set.
func NewPropertySet() *PropertySet {
	return &PropertySet{props: make(map[string]*property)}
}

func (s *PropertySet) add(p *property) {
	if _, exists := s.props[p.name]; exists {
		panic(fmt.Sprintf("tofu: property %s registered twice", p.name))
	}
	s.order = append(s.order, p.name)
	s.props[p.name] = p
}

// Float registers a floating point property backed by dst.
func (s *PropertySet) Float(name string, dst *float64) {
	s.add(&property{
		name: name,
		kind: KindFloat,
		get:  func() any { return *dst },
		set: func(v any) error {
			f, err := toFloat(v)
			if err != nil {
				return err
			}
			*dst = f
			return nil
		},
	})
}

// Int registers an integer property backed by dst.
func (s *PropertySet) Int(name string, dst *int) {
	s.add(&property{
		name: name,
		kind: KindInt,
		get:  func() any { return *dst },
		set: func(v any) error {
			i, err := toInt(v)
			if err != nil {
				return err
			}
			*dst = i
			return nil
		},
	})
}

// Size registers a non-negative integer property backed by dst.
func (s *PropertySet) Size(name string, dst *int) {
	s.add(&property{
		name: name,
		kind: KindInt,
		get:  func() any { return *dst },
		set: func(v any) error {
			i, err := toInt(v)
			if err != nil {
				return err
			}
			if i < 0 {
				return fmt.Errorf("%d is negative", i)
			}
			*dst = i
			return nil
		},
	})
}

// Bool registers a boolean property backed by dst.
func (s *PropertySet) Bool(name string, dst *bool) {
	s.add(&property{
		name: name,
		kind: KindBool,
		get:  func() any { return *dst },
		set: func(v any) error {
			b, err := toBool(v)
			if err != nil {
				return err
			}
			*dst = b
			return nil
		},
	})
}

// String registers a free-form string property backed by dst.
func (s *PropertySet) String(name string, dst *string) {
	s.add(&property{
		name: name,
		kind: KindString,
		get:  func() any { return *dst },
		set: func(v any) error {
			str, ok := v.(string)
			if !ok {
				return fmt.Errorf("expected string, got %T", v)
			}
			*dst = str
			return nil
		},
	})
}

// Enum registers a string property restricted to choices.
func (s *PropertySet) Enum(name string, dst *string, choices ...string) {
	s.add(&property{
		name:    name,
		kind:    KindEnum,
		choices: append([]string(nil), choices...),
		get:     func() any { return *dst },
		set: func(v any) error {
			str, ok := v.(string)
			if !ok {
				return fmt.Errorf("expected string, got %T", v)
			}
			for _, choice := range choices {
				if strings.EqualFold(choice, str) {
					*dst = choice
					return nil
				}
			}
			return fmt.Errorf("%q not one of %s", str, strings.Join(choices, ", "))
		},
	})
}

// Set converts and assigns value to the named property. Underscores in name
// are accepted in place of dashes.
func (s *PropertySet) Set(name string, value any) error {
	name = normalizeName(name)
	p, ok := s.props[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
	if err := p.set(value); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidProperty, name, err)
	}
	return nil
}

// Get returns the current value of the named property.
func (s *PropertySet) Get(name string) (any, bool) {
	p, ok := s.props[normalizeName(name)]
	if !ok {
		return nil, false
	}
	return p.get(), true
}

// Has reports whether the named property exists.
func (s *PropertySet) Has(name string) bool {
	_, ok := s.props[normalizeName(name)]
	return ok
}

// Kind returns the type of the named property.
func (s *PropertySet) Kind(name string) (PropertyKind, bool) {
	p, ok := s.props[normalizeName(name)]
	if !ok {
		return "", false
	}
	return p.kind, true
}

// Choices returns the allowed values of an enum property.
func (s *PropertySet) Choices(name string) []string {
	p, ok := s.props[normalizeName(name)]
	if !ok {
		return nil
	}
	return append([]string(nil), p.choices...)
}

// Names returns property names in registration order.
func (s *PropertySet) Names() []string {
	return append([]string(nil), s.order...)
}

// Values snapshots every property value.
func (s *PropertySet) Values() Properties {
	values := make(Properties, len(s.order))
	for _, name := range s.order {
		values[name] = s.props[name].get()
	}
	return values
}

// Apply sets every entry of props in sorted key order, stopping at the first error.
func (s *PropertySet) Apply(props Properties) error {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.Set(k, props[k]); err != nil {
			return err
		}
	}
	return nil
}

func normalizeName(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case int32:
		return int(x), nil
	case uint:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int(x), nil
	case float32:
		if float64(x) != math.Trunc(float64(x)) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int(x), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(x))
	case int:
		return x != 0, nil
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}
