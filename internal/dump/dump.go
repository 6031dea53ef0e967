// Package dump pretty prints arbitrary Go values for diagnostics.
//
// Exported struct fields, slices, arrays and maps are walked recursively and
// written one member per line with nested values indented. Pointers seen
// before are not followed again, so cyclic structures terminate. Fields can
// be skipped by name or with a `dump:"-"` struct tag.
package dump

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/kr/text"
)

// DefaultMaxDepth is used when Config.MaxDepth is not positive.
const DefaultMaxDepth = 10

const indent = "    "

// Config controls how values are dumped.
type Config struct {
	// MaxDepth limits how many containers deep the dumper descends.
	MaxDepth int

	// Ignore lists struct field names that are never printed.
	Ignore []string
}

// Fprint writes a dump of v to w followed by a newline.
func Fprint(w io.Writer, v any, cfg Config) error {
	_, err := io.WriteString(w, Sprint(v, cfg)+"\n")
	return err
}

// Sprint returns a dump of v.
func Sprint(v any, cfg Config) string {
	d := newDumper(cfg)
	return d.format(reflect.ValueOf(v), 0)
}

type dumper struct {
	maxDepth int
	ignore   map[string]bool
	seen     map[uintptr]bool
}

func newDumper(cfg Config) *dumper {
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	ignore := make(map[string]bool, len(cfg.Ignore))
	for _, name := range cfg.Ignore {
		ignore[name] = true
	}
	return &dumper{
		maxDepth: maxDepth,
		ignore:   ignore,
		seen:     make(map[uintptr]bool),
	}
}

var (
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

func (d *dumper) format(v reflect.Value, depth int) string {
	if !v.IsValid() {
		return "<nil>"
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return "<nil>"
		}
	}

	if s, ok := stringValue(v); ok {
		return s
	}

	switch v.Kind() {
	case reflect.Interface:
		return d.format(v.Elem(), depth)

	case reflect.Pointer:
		addr := v.Pointer()
		if d.seen[addr] {
			return fmt.Sprintf("<skipped: repeated reference to %s>", v.Type())
		}
		d.seen[addr] = true
		return d.format(v.Elem(), depth)

	case reflect.String:
		return strconv.Quote(v.String())

	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v)

	case reflect.Struct:
		if depth >= d.maxDepth {
			return d.depthMarker()
		}
		return d.formatStruct(v, depth)

	case reflect.Slice, reflect.Array:
		if depth >= d.maxDepth {
			return d.depthMarker()
		}
		return d.formatList(v, depth)

	case reflect.Map:
		if depth >= d.maxDepth {
			return d.depthMarker()
		}
		addr := v.Pointer()
		if d.seen[addr] {
			return fmt.Sprintf("<skipped: repeated reference to %s>", v.Type())
		}
		d.seen[addr] = true
		return d.formatMap(v, depth)

	default:
		return "<" + v.Type().String() + ">"
	}
}

// stringValue renders errors and Stringers through their own methods.
func stringValue(v reflect.Value) (string, bool) {
	if !v.CanInterface() {
		return "", false
	}
	t := v.Type()
	switch {
	case t.Implements(errorType):
		return strconv.Quote(v.Interface().(error).Error()), true
	case t.Implements(stringerType) && t.Kind() != reflect.Interface:
		return v.Interface().(fmt.Stringer).String(), true
	}
	return "", false
}

func (d *dumper) depthMarker() string {
	return fmt.Sprintf("<max depth %d reached>", d.maxDepth)
}

func (d *dumper) formatStruct(v reflect.Value, depth int) string {
	t := v.Type()
	var lines []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() || d.ignore[field.Name] || field.Tag.Get("dump") == "-" {
			continue
		}
		lines = append(lines, field.Name+": "+d.format(v.Field(i), depth+1))
	}
	return block(t.String()+" {", lines, "}")
}

func (d *dumper) formatList(v reflect.Value, depth int) string {
	header := fmt.Sprintf("%s (len %d) [", v.Type(), v.Len())
	lines := make([]string, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		lines = append(lines, fmt.Sprintf("[%d]: %s", i, d.format(v.Index(i), depth+1)))
	}
	return block(header, lines, "]")
}

func (d *dumper) formatMap(v reflect.Value, depth int) string {
	header := fmt.Sprintf("%s (len %d) {", v.Type(), v.Len())

	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, d.format(k, depth+1)+": "+d.format(v.MapIndex(k), depth+1))
	}
	return block(header, lines, "}")
}

// block joins a header, indented member lines and a closing line. Empty
// containers stay on one line.
func block(open string, lines []string, end string) string {
	if len(lines) == 0 {
		return open + end
	}
	var b strings.Builder
	b.WriteString(open)
	b.WriteString("\n")
	b.WriteString(text.Indent(strings.Join(lines, "\n"), indent))
	b.WriteString("\n")
	b.WriteString(end)
	return b.String()
}
