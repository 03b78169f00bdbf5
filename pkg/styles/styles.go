package styles

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Style biases the tone of a reply by prefixing an instruction onto the
// user's message. Prefixing is a pure string transform; the backend never
// sees styles as a separate concept.
type Style struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
}

// Apply prefixes the style's instruction onto text.
func (s Style) Apply(text string) string {
	if s.Prompt == "" {
		return text
	}
	return s.Prompt + "\n\n" + text
}

// Default returns the built-in style catalog.
func Default() []Style {
	return []Style{
		{
			ID:     "default",
			Name:   "Default",
			Prompt: "You are a helpful AI assistant. Answer questions in clear, simple language.",
		},
		{
			ID:     "technical",
			Name:   "Technical",
			Prompt: "You are a technical expert. Answer with professional, detailed explanations suitable for developers.",
		},
		{
			ID:     "friendly",
			Name:   "Friendly",
			Prompt: "You are a friendly conversation partner. Answer in a relaxed, lively tone.",
		},
		{
			ID:     "concise",
			Name:   "Concise",
			Prompt: "Answer as concisely as possible, straight to the point, in no more than three sentences.",
		},
	}
}

// Lookup finds a style by id in the given catalog. An empty id resolves to
// the catalog's first entry.
func Lookup(catalog []Style, id string) (Style, bool) {
	if len(catalog) == 0 {
		return Style{}, false
	}
	if id == "" {
		return catalog[0], true
	}
	for _, s := range catalog {
		if s.ID == id {
			return s, true
		}
	}
	return Style{}, false
}

// LoadFile reads a style catalog from a YAML file.
func LoadFile(path string) ([]Style, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read style catalog %s", path)
	}

	var catalog []Style
	if err := yaml.Unmarshal(b, &catalog); err != nil {
		return nil, errors.Wrapf(err, "could not parse style catalog %s", path)
	}

	for i, s := range catalog {
		if s.ID == "" {
			return nil, errors.Errorf("style %d in %s has no id", i, path)
		}
	}

	return catalog, nil
}
