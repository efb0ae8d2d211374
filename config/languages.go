package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Language pairs a language code with the formal name used in prompts and
// folder names, e.g. "ja" → "Japanese (Japan)".
type Language struct {
	Code string
	Name string
}

// Languages is the ordered list of supported languages. In YAML it is a
// mapping from code to formal name; mapping order is kept.
type Languages []Language

// UnmarshalYAML decodes a code → name mapping, keeping document order.
func (l *Languages) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: supported_languages must be a mapping of code to name", value.Line)
	}
	out := make(Languages, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		k, v := value.Content[i], value.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: language entries must be scalar", k.Line)
		}
		out = append(out, Language{Code: k.Value, Name: v.Value})
	}
	*l = out
	return nil
}

// MarshalYAML encodes the list as an ordered mapping.
func (l Languages) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, lang := range l {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: lang.Code},
			&yaml.Node{Kind: yaml.ScalarNode, Value: lang.Name},
		)
	}
	return node, nil
}

// FormalName looks code up case-insensitively.
func (l Languages) FormalName(code string) (string, bool) {
	for _, lang := range l {
		if strings.EqualFold(lang.Code, code) {
			return lang.Name, true
		}
	}
	return "", false
}

// Canonical returns the configured spelling of code.
func (l Languages) Canonical(code string) (string, bool) {
	for _, lang := range l {
		if strings.EqualFold(lang.Code, code) {
			return lang.Code, true
		}
	}
	return "", false
}

// Codes returns every configured code in order.
func (l Languages) Codes() []string {
	out := make([]string, len(l))
	for i, lang := range l {
		out[i] = lang.Code
	}
	return out
}

// FolderName turns a formal language name into a directory name: characters
// that are invalid in file names are dropped, then surrounding spaces and
// dots are trimmed.
func FolderName(formal string) string {
	name := strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(`<>:"/\|?*`, r) {
			return -1
		}
		return r
	}, formal)
	return strings.Trim(name, " .")
}

// DefaultLanguages is used when translator.yaml has no supported_languages.
func DefaultLanguages() Languages {
	return Languages{
		{"ja", "Japanese (Japan)"},
		{"zh-CN", "Chinese (Simplified, China)"},
		{"zh-TW", "Chinese (Traditional, Taiwan)"},
		{"ko", "Korean (Korea)"},
		{"de", "German (Germany)"},
		{"fr", "French (France)"},
		{"es", "Spanish (Spain)"},
		{"it", "Italian (Italy)"},
		{"pl", "Polish (Poland)"},
		{"pt-BR", "Portuguese (Brazil)"},
		{"ru", "Russian (Russia)"},
		{"tr", "Turkish (Turkey)"},
	}
}
