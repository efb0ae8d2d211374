package translate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ricave/ricave-translator/settings"
)

// Prompt keys in prompts.json.
const (
	PromptTranslate  = "translate"
	PromptFix        = "fix"
	PromptNativeName = "native_name"
)

// TranslatePrompt asks for a JSON object with its string values translated.
const TranslatePrompt = `You are an expert translator for the video game 'Ricave'. Your task is to translate the string values in the following JSON object from English to {{targetLang}}.
You must follow these rules precisely:
1. Return ONLY a valid JSON object. Do not include any other text or explanations.
2. Preserve the original JSON structure and all keys exactly.
3. Translate only the string values.
4. Ensure all string values are properly JSON-escaped.
5. **CRITICAL**: Preserve all placeholder tokens (e.g., ` + "`__p0__`, `__p1__`" + `) exactly as they appear. Do not translate them.
Here is the JSON object to translate:
{{json}}`

// FixPrompt is the corrective variant used by the format-repair loop.
const FixPrompt = `You are a translation correction assistant. You previously failed to preserve placeholder tokens in a translation.
Your task is to translate the following JSON values from English to {{targetLang}} again, this time following the rules correctly.

You must follow these rules precisely:
1. Return ONLY a valid JSON object.
2. **CRITICAL**: You MUST preserve all placeholder tokens (e.g., ` + "`__p0__`, `__p1__`" + `) exactly as they appear in the original text. Do not translate them. This is the most important rule.
3. Preserve the original JSON structure and all keys exactly.

Here is the JSON object with the original English text that you must translate correctly:
{{json}}`

// NativeNamePrompt asks for the endonym of a language.
const NativeNamePrompt = `What is the native name for the language '{{targetLang}}'? Provide only the name itself, without any additional text or explanation. For example, for 'Japanese (Japan)', you should return '日本語（日本）'.`

// Prompts holds the prompt templates, keyed by PromptTranslate and friends.
type Prompts struct {
	Prompts map[string]string `json:"prompts"`
}

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() *Prompts {
	return &Prompts{Prompts: map[string]string{
		PromptTranslate:  TranslatePrompt,
		PromptFix:        FixPrompt,
		PromptNativeName: NativeNamePrompt,
	}}
}

// Get returns the template for key, falling back to the built-in one.
func (p *Prompts) Get(key string) string {
	if p != nil {
		if prompt, ok := p.Prompts[key]; ok && prompt != "" {
			return prompt
		}
	}
	return DefaultPrompts().Prompts[key]
}

// Render fills {{targetLang}} and {{json}} in the template for key.
func (p *Prompts) Render(key, targetLang, payload string) string {
	r := strings.NewReplacer("{{targetLang}}", targetLang, "{{json}}", payload)
	return r.Replace(p.Get(key))
}

// LoadPromptsFromFile loads prompts from a JSON file. A missing file yields
// nil prompts and no error, so the built-in templates are used.
func LoadPromptsFromFile(path string) (*Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	var p Prompts
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse prompts file: %w", err)
	}
	return &p, nil
}

// createDefaultPromptsFile writes the built-in prompts to path.
func createDefaultPromptsFile(path string) error {
	data, err := json.MarshalIndent(DefaultPrompts(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling default prompts: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating prompts directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing default prompts file: %w", err)
	}
	return nil
}

// LoadPromptsFromDefaultLocations loads prompts.json from the user data
// directory ($XDG_DATA_HOME/ricave-translator/prompts.json), creating it with
// the built-in prompts first when it does not exist.
func LoadPromptsFromDefaultLocations() (*Prompts, string, error) {
	path, err := settings.PromptsFilePath()
	if err != nil {
		return nil, "", fmt.Errorf("cannot determine prompts file path: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefaultPromptsFile(path); err != nil {
			return nil, "", fmt.Errorf("creating default prompts file: %w", err)
		}
	}

	p, err := LoadPromptsFromFile(path)
	if err != nil {
		return nil, "", err
	}
	return p, path, nil
}
