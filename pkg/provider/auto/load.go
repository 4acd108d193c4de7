package auto

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// routesFile is the YAML shape of the routing table file.
type routesFile struct {
	Routes map[string]Route `yaml:"routes"`
}

// LoadTable reads a routing table from a YAML file:
//
//	routes:
//	  default:   {provider: openai, model: gpt-4o-mini}
//	  synthesis: {provider: openai, model: gpt-4o}
func LoadTable(path string) (map[string]Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auto: read routes file: %w", err)
	}
	var f routesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("auto: parse %s: %w", path, err)
	}
	if len(f.Routes) == 0 {
		return nil, fmt.Errorf("auto: %s declares no routes", path)
	}
	return f.Routes, nil
}
