package format

import (
	"bytes"
	"encoding"
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
)

type (
	// Codec maps program trees to YAML documents and back.
	// Interface-typed values are written as single-key mappings
	// naming the registered variant: {set: {to: {abstract: x}, from: {constant: 1}}}.
	Codec struct {
		variants map[reflect.Type]map[string]reflect.Type
		names    map[reflect.Type]map[reflect.Type]string
	}
)

var ErrMalformed = errors.New("malformed program")

var (
	textMarshaler   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshaler = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

func New() *Codec {
	return &Codec{
		variants: make(map[reflect.Type]map[string]reflect.Type),
		names:    make(map[reflect.Type]map[reflect.Type]string),
	}
}

// Variants registers the concrete types that may stand behind interface I.
// A variant is named after its type with the first letter lowered.
func Variants[I any](c *Codec, vs ...I) *Codec {
	it := reflect.TypeOf((*I)(nil)).Elem()

	if c.variants[it] == nil {
		c.variants[it] = make(map[string]reflect.Type)
		c.names[it] = make(map[reflect.Type]string)
	}

	for _, v := range vs {
		t := reflect.TypeOf(v)
		name := lowerFirst(t.Name())

		c.variants[it][name] = t
		c.names[it][t] = name
	}

	return c
}

// Encode renders v. Collections which fit into width columns
// are put on a single line.
func (c *Codec) Encode(v any, width int) ([]byte, error) {
	n, err := c.encode(reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}

	style(n, 0, 0, width)

	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	err = enc.Encode(n)
	if err != nil {
		return nil, errors.Wrap(err, "yaml")
	}

	err = enc.Close()
	if err != nil {
		return nil, errors.Wrap(err, "yaml")
	}

	return buf.Bytes(), nil
}

// Decode parses data into v which must be a pointer.
func (c *Codec) Decode(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("decode into %T", v)
	}

	var doc yaml.Node

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return errors.Wrap(ErrMalformed, "%v", err)
	}

	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return errors.Wrap(ErrMalformed, "empty document")
	}

	return c.decode(doc.Content[0], rv.Elem())
}

func (c *Codec) encode(v reflect.Value) (*yaml.Node, error) {
	if !v.IsValid() {
		return null(), nil
	}

	t := v.Type()

	if t.Kind() == reflect.Interface {
		if v.IsNil() {
			return null(), nil
		}

		e := v.Elem()

		name, ok := c.names[t][e.Type()]
		if !ok {
			return nil, errors.New("%v: unregistered variant %v", t, e.Type())
		}

		body, err := c.encode(e)
		if err != nil {
			return nil, errors.Wrap(err, "%v", name)
		}

		return mapping(scalar("!!str", name), body), nil
	}

	if t.Implements(textMarshaler) {
		b, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, err
		}

		return scalar("!!str", string(b)), nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return scalar("!!bool", strconv.FormatBool(v.Bool())), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return scalar("!!int", strconv.FormatInt(v.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return scalar("!!int", strconv.FormatUint(v.Uint(), 10)), nil
	case reflect.String:
		return scalar("!!str", v.String()), nil
	case reflect.Pointer:
		if v.IsNil() {
			return null(), nil
		}

		return c.encode(v.Elem())
	case reflect.Slice:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}

		for i := 0; i < v.Len(); i++ {
			x, err := c.encode(v.Index(i))
			if err != nil {
				return nil, errors.Wrap(err, "index %d", i)
			}

			n.Content = append(n.Content, x)
		}

		return n, nil
	case reflect.Struct:
		n := mapping()

		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}

			x, err := c.encode(v.Field(i))
			if err != nil {
				return nil, errors.Wrap(err, "%v", fieldName(f))
			}

			n.Content = append(n.Content, scalar("!!str", fieldName(f)), x)
		}

		return n, nil
	}

	return nil, errors.New("unsupported type: %v", t)
}

func (c *Codec) decode(n *yaml.Node, v reflect.Value) (err error) {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}

	t := v.Type()

	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null" {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice:
			v.Set(reflect.Zero(t))
			return nil
		}

		return malformed(n, "unexpected null for %v", t)
	}

	if t.Kind() == reflect.Interface {
		if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
			return malformed(n, "expected a single-key %v variant", t)
		}

		name := n.Content[0].Value

		vt, ok := c.variants[t][name]
		if !ok {
			return malformed(n, "unknown %v variant %q", t, name)
		}

		x := reflect.New(vt).Elem()

		err = c.decode(n.Content[1], x)
		if err != nil {
			return errors.Wrap(err, "%v", name)
		}

		v.Set(x)

		return nil
	}

	if reflect.PointerTo(t).Implements(textUnmarshaler) {
		if n.Kind != yaml.ScalarNode {
			return malformed(n, "expected scalar %v", t)
		}

		err = v.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(n.Value))
		if err != nil {
			return malformed(n, "%v", err)
		}

		return nil
	}

	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return decodeScalar(n, v)
	case reflect.Pointer:
		x := reflect.New(t.Elem())

		err = c.decode(n, x.Elem())
		if err != nil {
			return err
		}

		v.Set(x)

		return nil
	case reflect.Slice:
		if n.Kind != yaml.SequenceNode {
			return malformed(n, "expected sequence")
		}

		if len(n.Content) == 0 {
			v.Set(reflect.Zero(t))
			return nil
		}

		s := reflect.MakeSlice(t, len(n.Content), len(n.Content))

		for i, x := range n.Content {
			err = c.decode(x, s.Index(i))
			if err != nil {
				return errors.Wrap(err, "index %d", i)
			}
		}

		v.Set(s)

		return nil
	case reflect.Struct:
		if n.Kind != yaml.MappingNode {
			return malformed(n, "expected mapping")
		}

		v.Set(reflect.Zero(t))

	keys:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value

			for j := 0; j < t.NumField(); j++ {
				f := t.Field(j)
				if !f.IsExported() || fieldName(f) != key {
					continue
				}

				err = c.decode(n.Content[i+1], v.Field(j))
				if err != nil {
					return errors.Wrap(err, "%v", key)
				}

				continue keys
			}

			return malformed(n.Content[i], "unknown field %q of %v", key, t)
		}

		return nil
	}

	return errors.New("unsupported type: %v", t)
}

func decodeScalar(n *yaml.Node, v reflect.Value) error {
	if n.Kind != yaml.ScalarNode {
		return malformed(n, "expected scalar")
	}

	switch v.Kind() {
	case reflect.Bool:
		x, err := strconv.ParseBool(n.Value)
		if err != nil {
			return malformed(n, "bad bool %q", n.Value)
		}

		v.SetBool(x)
	case reflect.String:
		v.SetString(n.Value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		x, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil || v.OverflowInt(x) {
			return malformed(n, "bad integer %q", n.Value)
		}

		v.SetInt(x)
	default:
		x, err := strconv.ParseUint(n.Value, 0, 64)
		if err != nil || v.OverflowUint(x) {
			return malformed(n, "bad unsigned integer %q", n.Value)
		}

		v.SetUint(x)
	}

	return nil
}

// style switches to flow style every outermost collection
// whose single-line rendering fits into the width.
// Block content of n starts at column col; rendered in flow style
// n would start at column at, after its key or dash.
func style(n *yaml.Node, col, at, width int) {
	switch n.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
	default:
		return
	}

	if at+flowLen(n) <= width {
		n.Style = yaml.FlowStyle
		return
	}

	if n.Kind == yaml.SequenceNode {
		for _, x := range n.Content {
			style(x, col+2, col+2, width)
		}

		return
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		style(n.Content[i+1], col+2, col+flowLen(n.Content[i])+2, width)
	}
}

func flowLen(n *yaml.Node) (l int) {
	switch n.Kind {
	case yaml.ScalarNode:
		l = utf8.RuneCountInString(n.Value)

		if n.Tag == "!!str" && needsQuotes(n.Value) {
			l += 2
		}

		return l
	case yaml.SequenceNode:
		for _, x := range n.Content {
			l += flowLen(x)
		}

		if k := len(n.Content); k > 1 {
			l += 2 * (k - 1)
		}
	case yaml.MappingNode:
		pairs := len(n.Content) / 2

		for _, x := range n.Content {
			l += flowLen(x)
		}

		l += 2 * pairs // ": "

		if pairs > 1 {
			l += 2 * (pairs - 1)
		}
	}

	return l + 2
}

func needsQuotes(s string) bool {
	if s == "" {
		return true
	}

	switch s {
	case "true", "false", "null", "~", "yes", "no", "on", "off":
		return true
	}

	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}

	return strings.ContainsAny(s, ":,[]{}#&*!|>'\"%@`") || s[0] == ' ' || s[len(s)-1] == ' '
}

func fieldName(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("yaml"); ok {
		if name, _, _ := strings.Cut(tag, ","); name != "" {
			return name
		}
	}

	return lowerFirst(f.Name)
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}

	return string(unicode.ToLower(r)) + s[size:]
}

func malformed(n *yaml.Node, format string, args ...any) error {
	return errors.Wrap(ErrMalformed, "line %d: "+format, append([]any{n.Line}, args...)...)
}

func scalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

func mapping(kv ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: kv}
}

func null() *yaml.Node {
	return scalar("!!null", "null")
}
