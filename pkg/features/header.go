package features

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Header is the schema a trained classifier expects: the ordered list of
// feature names and the list of class labels. It is saved next to a
// trained model and used to force a live feature-stack array into the
// exact layout the model was trained on.
type Header struct {
	// Features is the ordered list of channel names
	Features []string `yaml:"features"`

	// Classes is the ordered list of class label names
	Classes []string `yaml:"classes"`
}

// LoadHeader reads a model header from a YAML file.
func LoadHeader(path string) (*Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading model header: %w", err)
	}
	h := &Header{}
	if err := yaml.Unmarshal(data, h); err != nil {
		return nil, fmt.Errorf("error parsing model header: %w", err)
	}
	return h, nil
}

// Save writes the header to a YAML file.
func (h *Header) Save(path string) error {
	data, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Errorf("error marshaling model header: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing model header: %w", err)
	}
	return nil
}
