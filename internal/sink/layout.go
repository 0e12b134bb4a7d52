package sink

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// DefaultPartition names the directory of rows whose partition value is null
// or empty, as Hive and Spark do.
const DefaultPartition = "__HIVE_DEFAULT_PARTITION__"

type column struct {
	name  string
	field reflect.StructField
}

// layout splits a row type into partition columns, which become directories,
// and data columns, which are stored in the files.
type layout struct {
	partition []column
	data      []column
	dataType  reflect.Type
}

// parquetName extracts name=... from a parquet struct tag.
func parquetName(tag string) string {
	for _, part := range strings.Split(tag, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), "name") {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func columnsOf(t reflect.Type) ([]column, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("rows must be structs, got %s", t)
	}
	var cols []column
	seen := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := parquetName(f.Tag.Get("parquet"))
		if name == "" {
			return nil, fmt.Errorf("field %s.%s has no parquet column name", t.Name(), f.Name)
		}
		if seen[name] {
			return nil, fmt.Errorf("column %q declared twice in %s", name, t.Name())
		}
		seen[name] = true
		cols = append(cols, column{name: name, field: f})
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%s has no parquet columns", t)
	}
	return cols, nil
}

func partitionable(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func newLayout(rowType reflect.Type, partitionColumns []string) (*layout, error) {
	cols, err := columnsOf(rowType)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]column, len(cols))
	for _, c := range cols {
		byName[c.name] = c
	}

	l := &layout{}
	chosen := make(map[string]bool, len(partitionColumns))
	for _, name := range partitionColumns {
		c, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("partition column %q is not a column of %s", name, rowType.Name())
		}
		if chosen[name] {
			return nil, fmt.Errorf("partition column %q listed twice", name)
		}
		if !partitionable(c.field.Type) {
			return nil, fmt.Errorf("partition column %q has unsupported type %s", name, c.field.Type)
		}
		chosen[name] = true
		l.partition = append(l.partition, c)
	}

	fields := make([]reflect.StructField, 0, len(cols))
	for _, c := range cols {
		if chosen[c.name] {
			continue
		}
		l.data = append(l.data, c)
		fields = append(fields, reflect.StructField{Name: c.field.Name, Type: c.field.Type, Tag: c.field.Tag})
	}
	if len(l.data) == 0 {
		return nil, fmt.Errorf("every column of %s is a partition column", rowType.Name())
	}
	l.dataType = reflect.StructOf(fields)
	return l, nil
}

// project copies the data columns of row into a value of the data type.
func (l *layout) project(row reflect.Value) reflect.Value {
	out := reflect.New(l.dataType).Elem()
	for i, c := range l.data {
		out.Field(i).Set(row.FieldByIndex(c.field.Index))
	}
	return out
}

// dir returns the partition directory of row, e.g. "year=2018/month=11".
func (l *layout) dir(row reflect.Value) string {
	if len(l.partition) == 0 {
		return ""
	}
	parts := make([]string, len(l.partition))
	for i, c := range l.partition {
		parts[i] = c.name + "=" + partitionValue(row.FieldByIndex(c.field.Index))
	}
	return strings.Join(parts, "/")
}

func partitionValue(v reflect.Value) string {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return DefaultPartition
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.String:
		if v.String() == "" {
			return DefaultPartition
		}
		return EscapePathName(v.String())
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	}
	return EscapePathName(fmt.Sprint(v.Interface()))
}

// EscapePathName percent-encodes the characters Hive does not allow in a
// partition directory name.
func EscapePathName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if needsEscape(r) {
			fmt.Fprintf(&b, "%%%02X", r)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func needsEscape(r rune) bool {
	if r >= 0x01 && r <= 0x1F {
		return true
	}
	switch r {
	case '"', '#', '%', '\'', '*', '/', ':', '=', '?', '\\', 0x7F, '{', '[', ']', '^':
		return true
	}
	return false
}

type group struct {
	dir  string
	rows []reflect.Value
}

// groups buckets the rows of a slice by partition directory, sorted by
// directory name.
func (l *layout) groups(rows reflect.Value) []group {
	index := make(map[string]int)
	var out []group
	for i := 0; i < rows.Len(); i++ {
		row := rows.Index(i)
		d := l.dir(row)
		j, ok := index[d]
		if !ok {
			j = len(out)
			index[d] = j
			out = append(out, group{dir: d})
		}
		out[j].rows = append(out[j].rows, row)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].dir < out[b].dir })
	return out
}
