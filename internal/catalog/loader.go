package catalog

import (
	"embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed definitions/instances.yaml
var definitions embed.FS

const defaultDefinition = "definitions/instances.yaml"

// Loader loads the instance catalog from a YAML file, or from the built-in definition when no
// path is set
type Loader struct {
	path     string
	validate *validator.Validate
}

// NewLoader creates a new catalog loader
func NewLoader(path string) *Loader {
	return &Loader{
		path:     path,
		validate: validator.New(),
	}
}

// Load reads, parses and validates the catalog
func (l *Loader) Load() (*Catalog, error) {
	data, source, err := l.read()
	if err != nil {
		return nil, err
	}

	return l.Parse(data, source)
}

// Parse parses and validates catalog YAML; source names the input in errors
func (l *Loader) Parse(data []byte, source string) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog YAML %s: %w", source, err)
	}

	if err := l.Validate(&c); err != nil {
		return nil, fmt.Errorf("validate catalog %s: %w", source, err)
	}

	return &c, nil
}

// Validate validates a catalog
func (l *Loader) Validate(c *Catalog) error {
	if err := l.validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	names := lo.Map(c.Instances, func(s InstanceSpec, _ int) string { return s.Name })
	if dups := lo.FindDuplicates(names); len(dups) > 0 {
		return fmt.Errorf("duplicate instance classes: %v", dups)
	}

	for _, spec := range c.Instances {
		if _, ok := c.AMIs[spec.Virtualization]; !ok {
			return fmt.Errorf("instance class %s: %w %s", spec.Name, ErrNoAMI, spec.Virtualization)
		}
	}

	return nil
}

func (l *Loader) read() ([]byte, string, error) {
	if l.path == "" {
		data, err := definitions.ReadFile(defaultDefinition)
		if err != nil {
			return nil, "", fmt.Errorf("read built-in catalog: %w", err)
		}
		return data, "built-in", nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, "", fmt.Errorf("read catalog file %s: %w", l.path, err)
	}
	return data, l.path, nil
}
