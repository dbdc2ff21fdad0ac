package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go templates.
// Uses {{.VAR_NAME}} syntax so literal $ characters in values (origin
// patterns, passwords) are left untouched.
//
// Examples:
//   - {{.HTTP_PORT}} → value of HTTP_PORT
//   - "{{.HOST}}:{{.GRPC_PORT}}" → both variables expanded
//
// Missing variables expand to empty string. Content that is not a valid
// template is returned unchanged so the YAML parser reports the real error.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
