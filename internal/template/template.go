package template

import (
	"fmt"
	"strconv"

	"oraculus-server/internal/domain"
)

// VariableType enumerates the supported custom variable kinds.
type VariableType string

const (
	VariableText    VariableType = "text"
	VariableChoice  VariableType = "choice"
	VariableRange   VariableType = "range"
	VariableBoolean VariableType = "boolean"
)

// CustomVariable is a user-facing knob of a story template.
type CustomVariable struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Type         VariableType `json:"type"`
	Options      []string     `json:"options,omitempty"`
	MinValue     *int         `json:"min_value,omitempty"`
	MaxValue     *int         `json:"max_value,omitempty"`
	DefaultValue string       `json:"default_value,omitempty"`
}

// Scenario is a named preset of variable values.
type Scenario struct {
	Name   string            `json:"name"`
	Values map[string]string `json:"values"`
}

// StoryTemplate generates an opening story from a body with placeholders and
// a set of custom variables, combined with the protagonist's own variables.
type StoryTemplate struct {
	ID          string                    `json:"id"`
	Title       string                    `json:"title"`
	Description string                    `json:"description"`
	Body        string                    `json:"-"`
	Variables   map[string]CustomVariable `json:"variables"`
	Scenarios   []Scenario                `json:"predefined_scenarios"`
}

// Validate checks provided values against the template's variable
// definitions and returns a list of human-readable problems.
func (t *StoryTemplate) Validate(values map[string]string) []string {
	var errs []string
	for name, v := range t.Variables {
		value, ok := values[name]
		if !ok {
			if v.DefaultValue == "" {
				errs = append(errs, fmt.Sprintf("required variable %q not provided", name))
			}
			continue
		}

		switch v.Type {
		case VariableChoice:
			if len(v.Options) > 0 && !contains(v.Options, value) {
				errs = append(errs, fmt.Sprintf("variable %q must be one of %v", name, v.Options))
			}
		case VariableRange:
			n, err := strconv.Atoi(value)
			if err != nil {
				errs = append(errs, fmt.Sprintf("variable %q must be a number", name))
				continue
			}
			if v.MinValue != nil && n < *v.MinValue {
				errs = append(errs, fmt.Sprintf("variable %q must be at least %d", name, *v.MinValue))
			}
			if v.MaxValue != nil && n > *v.MaxValue {
				errs = append(errs, fmt.Sprintf("variable %q must be at most %d", name, *v.MaxValue))
			}
		}
	}
	return errs
}

// GenerateStory substitutes custom variables (falling back to defaults) and
// protagonist variables into the template body.
func (t *StoryTemplate) GenerateStory(values map[string]string, p *domain.Protagonist) string {
	vars := make(map[string]string, len(t.Variables)+6)
	for name, v := range t.Variables {
		if v.DefaultValue != "" {
			vars[name] = v.DefaultValue
		}
	}
	for name, value := range values {
		vars[name] = value
	}
	if p != nil {
		for name, value := range domain.Variables(*p) {
			vars[name] = value
		}
	}
	return domain.SubstituteVariables(t.Body, vars)
}

func contains(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}
