package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Paths use the JSON names, e.g. "backends.ollama.apiBase". Fields of an
// embedded BackendConfig sit directly under their backend, as in the file.

// GetByPath returns the value of the setting at path.
func GetByPath(cfg *Config, path string) (any, error) {
	v, err := lookup(reflect.ValueOf(cfg).Elem(), path)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// SetByPath parses value for the setting at path and applies it. The change
// is made on a copy and only lands in cfg when the result still validates, so
// a rejected value never leaves cfg half-updated.
func SetByPath(cfg *Config, path, value string) error {
	next := *cfg
	field, err := lookup(reflect.ValueOf(&next).Elem(), path)
	if err != nil {
		return err
	}
	if err := assign(field, value); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := Validate(&next); err != nil {
		return err
	}
	*cfg = next
	return nil
}

// ListPaths returns every setting keyed by its path.
func ListPaths(cfg *Config) map[string]any {
	out := make(map[string]any)
	walk(reflect.ValueOf(cfg).Elem(), "", func(path string, v reflect.Value) {
		out[path] = v.Interface()
	})
	return out
}

// Sanitize returns a copy of cfg with secrets masked, for display.
func Sanitize(cfg *Config) *Config {
	masked := *cfg
	masked.Notify.Telegram.Token = maskSecret(masked.Notify.Telegram.Token)
	masked.API.APIKey = maskSecret(masked.API.APIKey)
	return &masked
}

// maskSecret keeps the first and last four characters of long secrets.
func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func lookup(v reflect.Value, path string) (reflect.Value, error) {
	if path == "" {
		return reflect.Value{}, fmt.Errorf("empty config path")
	}
	for _, key := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("key not found: %s (%s is a value)", path, key)
		}
		field, ok := fieldByJSONName(v, key)
		if !ok {
			return reflect.Value{}, fmt.Errorf("key not found: %s", path)
		}
		v = field
	}
	if v.Kind() == reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%s is a section, not a setting", path)
	}
	return v, nil
}

func fieldByJSONName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if sf.Anonymous && jsonName(sf) == "" {
			if f, ok := fieldByJSONName(v.Field(i), name); ok {
				return f, true
			}
			continue
		}
		if jsonName(sf) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func walk(v reflect.Value, prefix string, visit func(string, reflect.Value)) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := jsonName(sf)
		if sf.Anonymous && name == "" {
			walk(v.Field(i), prefix, visit)
			continue
		}
		if name == "" || name == "-" {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if v.Field(i).Kind() == reflect.Struct {
			walk(v.Field(i), path, visit)
			continue
		}
		visit(path, v.Field(i))
	}
}

// jsonName is the tag name of sf, or "" for untagged embedded structs.
func jsonName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "" && !sf.Anonymous {
		return sf.Name
	}
	return name
}

func assign(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", raw)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", raw)
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("cannot set a %s", field.Kind())
	}
	return nil
}
