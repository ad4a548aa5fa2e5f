package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TypedConfig instantiates a filter, processor or uploader by type name.
type TypedConfig struct {
	Type   string         `yaml:"type"`
	Kwargs map[string]any `yaml:"kwargs"`
}

// TypedConfigOrRef is either an inline TypedConfig or a string reference to
// a shared, named instance.
type TypedConfigOrRef struct {
	Ref    string
	Inline *TypedConfig
}

// UnmarshalYAML accepts a scalar (reference) or a mapping (inline config).
func (t *TypedConfigOrRef) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&t.Ref)
	case yaml.MappingNode:
		t.Inline = &TypedConfig{}
		return node.Decode(t.Inline)
	default:
		return fmt.Errorf("line %d: expected a name or a type/kwargs mapping", node.Line)
	}
}

// TypedConfigList accepts a single entry or a list of entries.
type TypedConfigList []TypedConfigOrRef

// UnmarshalYAML normalises a single entry to a one-element list.
func (l *TypedConfigList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var entries []TypedConfigOrRef
		if err := node.Decode(&entries); err != nil {
			return err
		}
		*l = entries
		return nil
	}

	var single TypedConfigOrRef
	if err := single.UnmarshalYAML(node); err != nil {
		return err
	}
	*l = TypedConfigList{single}
	return nil
}

// ProcessingRule is one named filter -> processor -> uploaders pipeline.
type ProcessingRule struct {
	Name      string            `yaml:"name"`
	Filter    TypedConfigList   `yaml:"filter"`
	Processor *TypedConfigOrRef `yaml:"processor,omitempty"`
	Upload    TypedConfigList   `yaml:"upload"`
}

// ProcessingConfig is the transport processing configuration: shared
// processor/uploader instances plus the ordered rule list.
type ProcessingConfig struct {
	Processors map[string]TypedConfig `yaml:"processors"`
	Uploaders  map[string]TypedConfig `yaml:"uploaders"`
	Rules      []ProcessingRule       `yaml:"image_processing_cfg"`

	// BaseDir is the directory the config was loaded from; kwargs paths
	// are resolved relative to it.
	BaseDir string `yaml:"-"`
}

// LoadProcessingConfig reads and validates a processing configuration file,
// expanding ${ENV_VAR} placeholders.
func LoadProcessingConfig(path string) (*ProcessingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read processing config %q: %w", path, err)
	}

	var cfg ProcessingConfig
	if unmarshalErr := yaml.Unmarshal([]byte(expandEnv(string(data))), &cfg); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse processing config: %w", unmarshalErr)
	}

	absDir, absErr := filepath.Abs(filepath.Dir(path))
	if absErr != nil {
		return nil, fmt.Errorf("failed to resolve processing config dir: %w", absErr)
	}
	cfg.BaseDir = absDir

	if validateErr := validateProcessing(&cfg); validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// validateProcessing checks rule shape and that shared references resolve.
func validateProcessing(cfg *ProcessingConfig) error {
	if len(cfg.Rules) == 0 {
		return fmt.Errorf("image_processing_cfg must contain at least one rule")
	}

	for i, rule := range cfg.Rules {
		where := fmt.Sprintf("image_processing_cfg[%d] (%s)", i, rule.Name)

		if len(rule.Filter) == 0 {
			return fmt.Errorf("%s: at least one filter is required", where)
		}
		if len(rule.Upload) == 0 {
			return fmt.Errorf("%s: at least one uploader is required", where)
		}

		if rule.Processor != nil && rule.Processor.Ref != "" {
			if _, ok := cfg.Processors[rule.Processor.Ref]; !ok {
				return fmt.Errorf("%s: no such shared processor %q", where, rule.Processor.Ref)
			}
		}
		for _, up := range rule.Upload {
			if up.Ref == "" {
				continue
			}
			if _, ok := cfg.Uploaders[up.Ref]; !ok {
				return fmt.Errorf("%s: no such shared uploader %q", where, up.Ref)
			}
		}
	}

	return nil
}

// DecodeKwargs unpacks a kwargs map into a typed struct using its yaml tags.
func DecodeKwargs(kwargs map[string]any, out any) error {
	data, err := yaml.Marshal(kwargs)
	if err != nil {
		return fmt.Errorf("failed to re-encode kwargs: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode kwargs: %w", err)
	}
	return nil
}
