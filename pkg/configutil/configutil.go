// Package configutil holds the TOML loading helpers shared by the hub and
// client configuration loaders: reading a file into a typed struct while
// warning (not failing) about unrecognized keys, per the redesign note in
// spec.md §9 about replacing loose configuration dictionaries with an
// explicit, enumerated record.
package configutil

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Load decodes the TOML file at path into dst (a pointer to a config
// struct) and returns the list of "table.key" paths found in the file
// that have no matching field in dst, for the caller to log as warnings.
func Load(path string, dst interface{}) (unknown []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, dst); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		// Already parsed successfully above; a failure here only affects
		// the unknown-key warning pass, not correctness.
		return nil, nil
	}
	return unknownKeys("", raw, fieldTagSet(reflect.TypeOf(dst))), nil
}

// fieldTagSet maps each `toml:"name"` tag on t's exported fields to that
// field's type, so unknownKeys can recurse into nested tables and arrays
// of tables (e.g. datasets[*]).
func fieldTagSet(t reflect.Type) map[string]reflect.Type {
	m := make(map[string]reflect.Type)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return m
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue // unexported
		}
		tag := f.Tag.Get("toml")
		name := strings.Split(tag, ",")[0]
		if name == "" || name == "-" {
			continue
		}
		m[name] = f.Type
	}
	return m
}

func unknownKeys(prefix string, raw map[string]interface{}, known map[string]reflect.Type) []string {
	var out []string
	for key, val := range raw {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		fieldType, ok := known[key]
		if !ok {
			out = append(out, path)
			continue
		}
		for fieldType.Kind() == reflect.Ptr {
			fieldType = fieldType.Elem()
		}
		switch v := val.(type) {
		case map[string]interface{}:
			if fieldType.Kind() == reflect.Struct {
				out = append(out, unknownKeys(path, v, fieldTagSet(fieldType))...)
			}
		case []interface{}:
			elemType := fieldType
			if fieldType.Kind() == reflect.Slice || fieldType.Kind() == reflect.Array {
				elemType = fieldType.Elem()
				for elemType.Kind() == reflect.Ptr {
					elemType = elemType.Elem()
				}
			}
			if elemType.Kind() != reflect.Struct {
				continue
			}
			sub := fieldTagSet(elemType)
			for i, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					out = append(out, unknownKeys(fmt.Sprintf("%s[%d]", path, i), m, sub)...)
				}
			}
		}
	}
	return out
}
