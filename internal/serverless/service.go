// Package serverless reads the service description (serverless.yml) the
// simulator builds its topic registry from.
package serverless

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMemorySize = 1024
	DefaultTimeout    = 6
	DefaultStage      = "dev"
	DefaultRegion     = "us-east-1"
)

// Service is the parsed service description.
type Service struct {
	Name      ServiceName `yaml:"service"`
	Provider  Provider    `yaml:"provider"`
	Functions Functions   `yaml:"functions"`

	// Dir is the directory the description was loaded from.
	Dir string `yaml:"-"`
}

type Provider struct {
	Name        string            `yaml:"name"`
	Runtime     string            `yaml:"runtime"`
	Stage       string            `yaml:"stage"`
	Region      string            `yaml:"region"`
	MemorySize  int               `yaml:"memorySize"`
	Timeout     int               `yaml:"timeout"`
	Environment map[string]string `yaml:"environment"`
}

// Function is one entry of the functions mapping. Invoke tells the simulator
// how to call it locally.
type Function struct {
	Name        string            `yaml:"-"`
	Handler     string            `yaml:"handler"`
	Invoke      Invoke            `yaml:"invoke"`
	Environment map[string]string `yaml:"environment"`
	MemorySize  int               `yaml:"memorySize"`
	Timeout     int               `yaml:"timeout"`
	Events      []Event           `yaml:"events"`
}

type Invoke struct {
	URL     string  `yaml:"url"`
	Command Command `yaml:"command"`
	Dir     string  `yaml:"dir"`
}

// Command accepts either a sequence or a whitespace separated string.
type Command []string

func (c *Command) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*c = strings.Fields(node.Value)
		return nil
	}
	var parts []string
	if err := node.Decode(&parts); err != nil {
		return err
	}
	*c = parts
	return nil
}

// Event is one event declaration of a function. Only sns triggers are kept.
type Event struct {
	SNS *TopicTrigger
}

func (e *Event) UnmarshalYAML(node *yaml.Node) error {
	*e = Event{}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "sns" {
			continue
		}
		var trigger TopicTrigger
		if err := node.Content[i+1].Decode(&trigger); err != nil {
			return err
		}
		e.SNS = &trigger
	}
	return nil
}

// Functions keeps the declaration order of the functions mapping.
type Functions []Function

func (fs *Functions) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("functions: expected a mapping, got %s", kindName(node.Kind))
	}
	out := make(Functions, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var fn Function
		if err := node.Content[i+1].Decode(&fn); err != nil {
			return fmt.Errorf("function %q: %w", node.Content[i].Value, err)
		}
		fn.Name = node.Content[i].Value
		out = append(out, fn)
	}
	*fs = out
	return nil
}

// Lookup returns the named function.
func (fs Functions) Lookup(name string) (Function, bool) {
	for _, fn := range fs {
		if fn.Name == name {
			return fn, true
		}
	}
	return Function{}, false
}

// ServiceName accepts both `service: name` and `service: {name: name}`.
type ServiceName string

func (n *ServiceName) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var obj struct {
			Name string `yaml:"name"`
		}
		if err := node.Decode(&obj); err != nil {
			return err
		}
		*n = ServiceName(obj.Name)
		return nil
	}
	*n = ServiceName(node.Value)
	return nil
}

// Parse decodes a service description and fills function defaults from the
// provider.
func Parse(data []byte) (*Service, error) {
	var svc Service
	if err := yaml.Unmarshal(data, &svc); err != nil {
		return nil, fmt.Errorf("parse service: %w", err)
	}
	svc.applyDefaults()
	return &svc, nil
}

// Load reads and parses the description at path.
func Load(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service: %w", err)
	}
	svc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve service path: %w", err)
	}
	svc.Dir = filepath.Dir(abs)
	return svc, nil
}

func (s *Service) applyDefaults() {
	if s.Provider.MemorySize <= 0 {
		s.Provider.MemorySize = DefaultMemorySize
	}
	if s.Provider.Timeout <= 0 {
		s.Provider.Timeout = DefaultTimeout
	}
	if s.Provider.Stage == "" {
		s.Provider.Stage = DefaultStage
	}
	if s.Provider.Region == "" {
		s.Provider.Region = DefaultRegion
	}
	for i := range s.Functions {
		fn := &s.Functions[i]
		if fn.MemorySize <= 0 {
			fn.MemorySize = s.Provider.MemorySize
		}
		if fn.Timeout <= 0 {
			fn.Timeout = s.Provider.Timeout
		}
		if len(s.Provider.Environment) > 0 {
			env := make(map[string]string, len(s.Provider.Environment)+len(fn.Environment))
			for k, v := range s.Provider.Environment {
				env[k] = v
			}
			for k, v := range fn.Environment {
				env[k] = v
			}
			fn.Environment = env
		}
	}
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
