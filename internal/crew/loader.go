package crew

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a crew definition from a YAML (or JSON) file and validates it.
//
//	name: space-agents
//	process: sequential
//	agents:
//	  - role: Mission Planner
//	    goal: ...
//	    backstory: ...
//	    tools: [search_internet]
//	    allow_delegation: true
//	tasks:
//	  - name: mission_planning
//	    description: ...
//	    expected_output: ...
//	    agent: Mission Planner
func LoadFile(path string) (*Crew, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading crew file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a crew definition. Unknown fields are rejected
// so that typos in a definition fail loudly.
func Parse(data []byte) (*Crew, error) {
	var c Crew
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parsing crew definition: %w", err)
	}
	if c.Name == "" {
		c.Name = "crew"
	}
	if c.Process == "" {
		c.Process = ProcessSequential
	}
	if c.Process == ProcessHierarchical && c.ManagerModel == "" {
		c.ManagerModel = DefaultManagerModel
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
