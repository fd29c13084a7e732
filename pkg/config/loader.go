package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v10"
)

// fileSuffix marks a variable holding the path of a file with the value,
// the convention used for mounted secrets: JWT_SECRET_FILE=/run/secrets/jwt.
const fileSuffix = "_FILE"

// Load parses the process environment into cfg using its `env` tags.
// For any tagged NAME, NAME_FILE supplies the value from a file when NAME
// itself is unset.
func Load(cfg any) error {
	return LoadFrom(cfg, environ())
}

// LoadFrom parses cfg from vars instead of the process environment.
// Defaults from `envDefault` tags still apply.
func LoadFrom(cfg any, vars map[string]string) error {
	resolved, err := resolveFiles(vars, envNames(reflect.TypeOf(cfg)))
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: resolved}); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func environ() map[string]string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars
}

// envNames collects the variable names declared by `env` tags on t and its
// nested structs.
func envNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool)
	seen := make(map[reflect.Type]bool)
	var walk func(reflect.Type)
	walk = func(t reflect.Type) {
		for t != nil && t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t == nil || t.Kind() != reflect.Struct || seen[t] {
			return
		}
		seen[t] = true
		for i := range t.NumField() {
			f := t.Field(i)
			if name, _, _ := strings.Cut(f.Tag.Get("env"), ","); name != "" {
				names[name] = true
			}
			walk(f.Type)
		}
	}
	walk(t)
	return names
}

// resolveFiles copies vars, filling each known NAME from the file named by
// NAME_FILE. A directly set NAME wins. Trailing newlines are trimmed.
func resolveFiles(vars map[string]string, known map[string]bool) (map[string]string, error) {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	for k, path := range vars {
		name, ok := strings.CutSuffix(k, fileSuffix)
		if !ok || !known[name] || path == "" {
			continue
		}
		if _, set := vars[name]; set {
			continue
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", k, err)
		}
		out[name] = strings.TrimRight(string(b), "\r\n")
	}
	return out, nil
}
