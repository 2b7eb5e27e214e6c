package widgetctl

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/surveysync/internal/domain"
)

// Scenario scripts one visitor: identify, set attributes, track actions
// and answer whatever survey the actions trigger.
type Scenario struct {
	Name       string            `yaml:"name"`
	UserID     string            `yaml:"userId,omitempty"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
	Actions    []ActionStep      `yaml:"actions"`

	// Answers are sent, in order, to every survey that renders. The last
	// one must be finished.
	Answers []Answer `yaml:"answers,omitempty"`
}

// ActionStep is one tracked action.
type ActionStep struct {
	Name       string            `yaml:"name"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

// Answer is one response update.
type Answer struct {
	Data     map[string]any `yaml:"data"`
	Finished bool           `yaml:"finished,omitempty"`
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Actions) == 0 {
		return fmt.Errorf("actions list is required and must be non-empty")
	}
	for i, a := range s.Actions {
		if a.Name == "" {
			return fmt.Errorf("actions[%d]: name is required", i)
		}
	}
	for i, a := range s.Answers {
		if len(a.Data) == 0 {
			return fmt.Errorf("answers[%d]: data is required", i)
		}
		last := i == len(s.Answers)-1
		if a.Finished && !last {
			return fmt.Errorf("answers[%d]: only the last answer may be finished", i)
		}
		if !a.Finished && last {
			return fmt.Errorf("answers[%d]: the last answer must be finished", i)
		}
	}
	return nil
}

func (a Answer) responseData() domain.ResponseData {
	return domain.ResponseData(a.Data)
}
