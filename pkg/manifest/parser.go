package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"
)

type Parser struct {
	validator *Validator
}

func NewParser() *Parser {
	return NewParserWithValidator(NewValidator())
}

func NewParserWithValidator(v *Validator) *Parser {
	return &Parser{validator: v}
}

func (p *Parser) ParseFile(path string) (*ImportSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return p.Parse(data)
}

// Parse decodes one manifest after expanding ${VAR} references from the
// environment.
func (p *Parser) Parse(data []byte) (*ImportSource, error) {
	expanded := []byte(os.ExpandEnv(string(data)))

	var typeMeta TypeMeta
	if err := yaml.Unmarshal(expanded, &typeMeta); err != nil {
		return nil, fmt.Errorf("failed to parse type metadata: %w", err)
	}

	if typeMeta.Kind != KindImportSource {
		return nil, fmt.Errorf("unknown manifest kind: %s", typeMeta.Kind)
	}

	var src ImportSource
	if err := yaml.Unmarshal(expanded, &src); err != nil {
		return nil, fmt.Errorf("failed to parse ImportSource: %w", err)
	}

	if err := p.validator.Validate(&src); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &src, nil
}

// ParseDirectory parses every .yaml and .yml file below dir. Two manifests
// with the same name are an error.
func (p *Parser) ParseDirectory(dir string) ([]*ImportSource, error) {
	var manifests []*ImportSource
	seen := make(map[string]string)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() || (!strings.HasSuffix(path, ".yaml") &&
			!strings.HasSuffix(path, ".yml")) {
			return nil
		}

		m, err := p.ParseFile(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if prev, ok := seen[m.Name]; ok {
			return fmt.Errorf("import source %s defined in %s and %s", m.Name, prev, path)
		}
		seen[m.Name] = path

		manifests = append(manifests, m)
		return nil
	})

	if err != nil {
		return nil, err
	}

	return manifests, nil
}

type TypeMeta struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
}

// Marshal encodes src back into its YAML manifest form.
func Marshal(src *ImportSource) ([]byte, error) {
	data, err := yaml.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ImportSource %s: %w", src.Name, err)
	}
	return data, nil
}
