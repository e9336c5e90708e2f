package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "api_key: {{.TURN_KEY}}",
			env:   map[string]string{"TURN_KEY": "secret123"},
			want:  "api_key: secret123",
		},
		{
			name:  "shell style is left alone",
			input: "password: ${REDIS_PASSWORD}",
			env:   map[string]string{"REDIS_PASSWORD": "x"},
			want:  "password: ${REDIS_PASSWORD}",
		},
		{
			name:  "multiple substitutions in one line",
			input: "addr: {{.REDIS_HOST}}:{{.REDIS_PORT}}",
			env:   map[string]string{"REDIS_HOST": "redis", "REDIS_PORT": "6379"},
			want:  "addr: redis:6379",
		},
		{
			name:  "missing variable expands to empty",
			input: "api_key: {{.NOT_SET_ANYWHERE}}",
			want:  "api_key: ",
		},
		{
			name:  "value containing equals sign",
			input: "api_key: {{.TURN_KEY}}",
			env:   map[string]string{"TURN_KEY": "a=b=c"},
			want:  "api_key: a=b=c",
		},
		{
			name:  "malformed template passes through",
			input: "api_key: {{.TURN_KEY",
			env:   map[string]string{"TURN_KEY": "x"},
			want:  "api_key: {{.TURN_KEY",
		},
		{
			name:  "no template markers",
			input: "mode: local",
			want:  "mode: local",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}
