package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("TS_HOST", "db.local")
	t.Setenv("TS_PORT", "5432")
	t.Setenv("TS_WITH_EQUALS", "a=b=c")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "single variable",
			input: "host: {{.TS_HOST}}",
			want:  "host: db.local",
		},
		{
			name:  "multiple variables",
			input: "addr: {{.TS_HOST}}:{{.TS_PORT}}",
			want:  "addr: db.local:5432",
		},
		{
			name:  "value containing equals",
			input: "token: {{.TS_WITH_EQUALS}}",
			want:  "token: a=b=c",
		},
		{
			name:  "missing variable expands to empty",
			input: "key: {{.TS_DOES_NOT_EXIST}}",
			want:  "key: ",
		},
		{
			name:  "dollar signs untouched",
			input: `origin: "^https://.*\.example\.com$"`,
			want:  `origin: "^https://.*\.example\.com$"`,
		},
		{
			name:  "malformed template passes through",
			input: "broken: {{.TS_HOST",
			want:  "broken: {{.TS_HOST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}
