package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes the commented default config to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o644)
}

// Template is the config written by `binform config init`.
const Template = `# Directories searched for grammar descriptions before the built-ins.
grammar_dirs = ["grammars"]

# Decomposition bounds. 0 disables a bound.
max_input_bytes = 268435456
max_depth = 64
max_repeat = 1048576

# Concurrent files during certify.
workers = 4

# none | zstd | lz4
tree_compression = "zstd"
`
