package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/relay/pkg/models"
)

// Profile binds an agent kind to its system prompt and allowed tools.
type Profile struct {
	Kind         models.AgentKind `yaml:"-"`
	SystemPrompt string           `yaml:"system_prompt"`
	Tools        []string         `yaml:"tools"`
	MaxTokens    int              `yaml:"max_tokens"`
}

// Profiles holds one profile per agent kind.
type Profiles map[models.AgentKind]Profile

// DefaultProfiles returns the built-in bindings.
func DefaultProfiles() Profiles {
	return Profiles{
		models.AgentMath: {
			Kind:         models.AgentMath,
			SystemPrompt: MathSystemPrompt,
			Tools:        []string{"calculator", "add", "multiply", "divide"},
			MaxTokens:    1024,
		},
		models.AgentCode: {
			Kind:         models.AgentCode,
			SystemPrompt: CodeSystemPrompt,
			Tools:        []string{"run_python"},
			MaxTokens:    4096,
		},
		models.AgentResearch: {
			Kind:         models.AgentResearch,
			SystemPrompt: ResearchSystemPrompt,
			Tools:        []string{"web_search", "fetch_page", "current_time"},
			MaxTokens:    2048,
		},
	}
}

// profilesFile is the on-disk shape of a profiles override file.
//
//	agents:
//	  math:
//	    system_prompt: "..."
//	    tools: [calculator]
type profilesFile struct {
	Agents map[string]Profile `yaml:"agents"`
}

// LoadProfiles reads overrides from a YAML file and merges them over the
// defaults. Fields left empty in the file keep their default values.
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent profiles: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles merges YAML overrides over the defaults.
func ParseProfiles(data []byte) (Profiles, error) {
	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse agent profiles: %w", err)
	}

	profiles := DefaultProfiles()
	for name, override := range file.Agents {
		kind, err := models.ParseAgentKind(name)
		if err != nil {
			return nil, fmt.Errorf("agent profiles: %w", err)
		}
		p := profiles[kind]
		if override.SystemPrompt != "" {
			p.SystemPrompt = override.SystemPrompt
		}
		if override.Tools != nil {
			p.Tools = override.Tools
		}
		if override.MaxTokens > 0 {
			p.MaxTokens = override.MaxTokens
		}
		profiles[kind] = p
	}
	return profiles, nil
}
