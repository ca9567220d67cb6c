package catalog

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/insight-cli/internal/model"
)

type fileCatalog struct {
	Sources []model.SourceDescriptor `yaml:"sources"`
}

// LoadFile reads source descriptors from a YAML catalog file.
func LoadFile(path string) ([]model.SourceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	return ParseFile(data)
}

// ParseFile decodes and validates a YAML catalog document.
func ParseFile(data []byte) ([]model.SourceDescriptor, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "catalog: parse file")
	}

	seen := make(map[string]bool, len(fc.Sources))
	out := make([]model.SourceDescriptor, 0, len(fc.Sources))
	for i, s := range fc.Sources {
		provider, _, ok := SplitID(s.ID)
		if !ok {
			return nil, eris.Errorf("catalog: source %d has malformed id %q", i, s.ID)
		}
		if seen[s.ID] {
			return nil, eris.Errorf("catalog: duplicate source id %q", s.ID)
		}
		seen[s.ID] = true

		if s.Provider == "" {
			s.Provider = provider
		} else if s.Provider != provider {
			return nil, eris.Errorf("catalog: source %q provider %q does not match id prefix", s.ID, s.Provider)
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		if s.Dialect == "" {
			s.Dialect = DefaultDialect(provider)
		}
		out = append(out, s)
	}
	return out, nil
}

// DefaultDialect returns the query language a provider speaks.
func DefaultDialect(provider string) model.Dialect {
	if provider == ProviderPowerBI {
		return model.DialectDAX
	}
	return model.DialectSQL
}
