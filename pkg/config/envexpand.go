package config

import "os"

// ExpandEnv expands ${VAR}/$VAR references in raw YAML bytes before
// parsing, so secrets (API keys, tokens) never have to sit in the YAML
// file itself — only the environment variable name does. Missing
// variables expand to empty string; ValidateAll catches the resulting
// empty required fields.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
