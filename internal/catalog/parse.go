package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/vinhquevu/angora/internal/task"
)

// taggedDefinition pairs a raw task.Definition with the file it came
// from, so Reload can stamp config_source before expansion.
type taggedDefinition struct {
	Definition   task.Definition
	ConfigSource string
}

// loadDefinitions finds every file matching pattern (a doublestar glob,
// relative to the process working directory, e.g. "tasks/**/*.yml") and
// decodes each as a YAML sequence of task definitions.
func loadDefinitions(pattern string) ([]taggedDefinition, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("parse: glob %q: %w", pattern, err)
	}

	var all []taggedDefinition
	for _, path := range matches {
		defs, err := parseFile(path)
		if err != nil {
			return nil, fmt.Errorf("parse: %s: %w", path, err)
		}
		source := filepath.Base(path)
		for _, d := range defs {
			all = append(all, taggedDefinition{Definition: d, ConfigSource: source})
		}
	}
	return all, nil
}

func parseFile(path string) ([]task.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var defs []task.Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}
