package personality

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var templatesYAML []byte

// TemplateSpec is one entry of the embedded template table.
type TemplateSpec struct {
	Traits    []string `yaml:"traits"`
	Style     string   `yaml:"style"`
	Interests []string `yaml:"interests"`
	Greeting  string   `yaml:"greeting"`
	Fallback  []string `yaml:"fallback"`
}

var (
	templatesOnce sync.Once
	templates     map[Type]TemplateSpec
	templatesErr  error
)

func loadTemplates() (map[Type]TemplateSpec, error) {
	templatesOnce.Do(func() {
		var raw map[string]TemplateSpec
		if err := yaml.Unmarshal(templatesYAML, &raw); err != nil {
			templatesErr = fmt.Errorf("parse personality templates: %w", err)
			return
		}
		templates = make(map[Type]TemplateSpec, len(raw))
		for k, v := range raw {
			templates[Type(k)] = v
		}
		for _, t := range Types {
			tpl, ok := templates[t]
			if !ok || len(tpl.Fallback) == 0 {
				templatesErr = fmt.Errorf("personality template %q missing or has no fallback responses", t)
				return
			}
		}
	})
	return templates, templatesErr
}

// Template returns the template for a personality type.
func Template(t Type) (TemplateSpec, error) {
	all, err := loadTemplates()
	if err != nil {
		return TemplateSpec{}, err
	}
	tpl, ok := all[t]
	if !ok {
		return TemplateSpec{}, fmt.Errorf("%w: unknown type %q", ErrInvalid, t)
	}
	return tpl, nil
}

// FallbackResponses returns the canned reply pool for a type. Unknown types
// get the friendly pool so callers always have something to say.
func FallbackResponses(t Type) []string {
	all, err := loadTemplates()
	if err != nil {
		return []string{"Hey! Tell me more!"}
	}
	if tpl, ok := all[t]; ok {
		return tpl.Fallback
	}
	return all[Friendly].Fallback
}
