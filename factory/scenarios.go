package factory

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed scenarios/*.yaml
var embedScenarios embed.FS

// ScenarioInfo describes a built-in scenario.
type ScenarioInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Scenarios lists the built-in scenarios by name.
func Scenarios() ([]ScenarioInfo, error) {
	files, err := fs.Glob(embedScenarios, "scenarios/*.yaml")
	if err != nil {
		return nil, err
	}
	var out []ScenarioInfo
	for _, f := range files {
		seed, err := Scenario(strings.TrimSuffix(path.Base(f), ".yaml"))
		if err != nil {
			return nil, err
		}
		out = append(out, ScenarioInfo{Name: seed.Name, Description: strings.TrimSpace(seed.Description)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Scenario returns the parsed seed of a built-in scenario.
func Scenario(name string) (*Seed, error) {
	data, err := embedScenarios.ReadFile("scenarios/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", name, err)
	}
	return seed, nil
}
