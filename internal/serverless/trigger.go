package serverless

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// TriggerForm tells how a topic trigger was declared.
type TriggerForm int

const (
	// TriggerUnresolved is a declaration whose topic name could not be read.
	TriggerUnresolved TriggerForm = iota
	// TriggerString is the bare form: `sns: orders`.
	TriggerString
	// TriggerObject is the structured form: `sns: {topicName: orders}`.
	TriggerObject
)

func (f TriggerForm) String() string {
	switch f {
	case TriggerString:
		return "string"
	case TriggerObject:
		return "object"
	default:
		return "unresolved"
	}
}

// TopicTrigger is an `sns` event declaration resolved to a single topic name.
type TopicTrigger struct {
	Form        TriggerForm
	Name        string
	DisplayName string
}

// StringTrigger builds the bare form.
func StringTrigger(name string) *TopicTrigger {
	t := &TopicTrigger{Form: TriggerString, Name: name}
	if strings.TrimSpace(name) == "" {
		t.Form = TriggerUnresolved
	}
	return t
}

// ObjectTrigger builds the structured form.
func ObjectTrigger(topicName string) *TopicTrigger {
	t := &TopicTrigger{Form: TriggerObject, Name: topicName}
	if strings.TrimSpace(topicName) == "" {
		t.Form = TriggerUnresolved
	}
	return t
}

// Resolve returns the topic name, or false when the declaration carries none.
func (t *TopicTrigger) Resolve() (string, bool) {
	if t == nil || t.Form == TriggerUnresolved {
		return "", false
	}
	return t.Name, true
}

func (t *TopicTrigger) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.ShortTag() != "!!str" {
			*t = TopicTrigger{Form: TriggerUnresolved}
			return nil
		}
		*t = *StringTrigger(node.Value)
	case yaml.MappingNode:
		var obj struct {
			TopicName   any    `yaml:"topicName"`
			DisplayName string `yaml:"displayName"`
		}
		if err := node.Decode(&obj); err != nil {
			*t = TopicTrigger{Form: TriggerUnresolved}
			return nil
		}
		name, _ := obj.TopicName.(string)
		*t = *ObjectTrigger(name)
		t.DisplayName = obj.DisplayName
	default:
		*t = TopicTrigger{Form: TriggerUnresolved}
	}
	return nil
}
