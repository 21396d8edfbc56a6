package config

import "os"

// ExpandEnv expands environment variables in raw YAML content using Go's
// standard ${VAR}/$VAR shell syntax, before the document is unmarshalled.
// Missing variables expand to the empty string; Validate is expected to
// catch any required field that ends up empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
