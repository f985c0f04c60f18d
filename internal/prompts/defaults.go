package prompts

import (
	_ "embed"
	"log/slog"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var defaults = loadDefaults()

func loadDefaults() map[string]string {
	var catalog struct {
		Prompts map[string]string `yaml:"prompts"`
	}
	if err := yaml.Unmarshal(defaultsYAML, &catalog); err != nil {
		// The catalog is embedded at build time; a parse failure is a
		// packaging bug, not a runtime condition.
		panic("prompts: invalid embedded defaults catalog: " + err.Error())
	}
	return catalog.Prompts
}

// Default returns the build-time fallback instruction text for a slot. An
// unknown slot returns an empty string and logs a diagnostic.
func Default(name string) string {
	content, ok := defaults[name]
	if !ok {
		slog.Warn("No default prompt for slot", "name", name)
	}
	return content
}
