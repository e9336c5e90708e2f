package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands {{.VAR_NAME}} references in YAML content using Go
// templates. Shell-style $VAR and ${VAR} are left untouched, so secrets and
// patterns containing '$' survive as written.
//
// Missing variables expand to the empty string. Content that is not a valid
// template is returned unchanged and left for the YAML parser to judge.
func ExpandEnv(data []byte) []byte {
	if !bytes.Contains(data, []byte("{{")) {
		return data
	}

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
