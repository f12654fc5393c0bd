package assistant

import (
	_ "embed"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed resources/dictionary.yaml
var dictionaryYAML []byte

//go:embed resources/examples.yaml
var examplesYAML []byte

// ExamplePair is a demonstration exchange shown to the model before the conversation.
type ExamplePair struct {
	Input  string `yaml:"input"`
	Answer string `yaml:"answer"`
}

// Rule maps expressions matching Description to Target.
type Rule struct {
	Description string   `yaml:"description"`
	Target      string   `yaml:"target"`
	Aliases     []string `yaml:"aliases"`
}

func (r Rule) String() string {
	return r.Description + " -> " + r.Target
}

// DefaultExamples returns the built-in few-shot examples.
func DefaultExamples() ([]ExamplePair, error) {
	var doc struct {
		Examples []ExamplePair `yaml:"examples"`
	}
	if err := yaml.Unmarshal(examplesYAML, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse examples")
	}
	return doc.Examples, nil
}

// DefaultDictionary returns the built-in dictionary rules.
func DefaultDictionary() ([]Rule, error) {
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(dictionaryYAML, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse dictionary")
	}
	return doc.Rules, nil
}
