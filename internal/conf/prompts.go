package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/usecase"
)

// PromptsConfig contains all prompt configurations loaded from YAML
type PromptsConfig struct {
	Chat    ChatPrompts    `yaml:"chat"`
	History HistoryPrompts `yaml:"history"`
	Search  SearchPrompts  `yaml:"search"`
	Command CommandPrompts `yaml:"command"`
}

// ChatPrompts are used for the final reply
type ChatPrompts struct {
	SystemPrompt      string `yaml:"system_prompt"`
	PicDefaultPrompt  string `yaml:"pic_default_prompt"`
	LinkDefaultPrompt string `yaml:"link_default_prompt"`
}

// HistoryPrompts are used to condense recent history
type HistoryPrompts struct {
	CompressPrompt string `yaml:"compress_prompt"`
}

// SearchPrompts drive the rewrite, search decision and search-context steps
type SearchPrompts struct {
	RewritePrompt  string `yaml:"rewrite_prompt"`
	DecisionPrompt string `yaml:"decision_prompt"`
	PositiveAnswer string `yaml:"positive_answer"`
	ContextPrompt  string `yaml:"context_prompt"`
	LinksIntro     string `yaml:"links_intro"`
}

// CommandPrompts are fixed replies to commands
type CommandPrompts struct {
	ResetReply string `yaml:"reset_reply"`
}

// LoadPromptsConfig loads prompts configuration from YAML file.
// A missing file yields the defaults; a malformed one is an error.
func LoadPromptsConfig(configPath string) (*PromptsConfig, string, error) {
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/prompts.yaml",
			"/etc/feishu-chatflow/prompts.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "prompts.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	for _, p := range paths {
		if b, err := os.ReadFile(p); err == nil {
			data = b
			loadedPath = p
			break
		}
	}

	if data == nil {
		if configPath != "" {
			return nil, "", fmt.Errorf("prompts file %s not readable", configPath)
		}
		return DefaultPromptsConfig(), "", nil
	}

	var config PromptsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, "", fmt.Errorf("failed to parse %s: %w", loadedPath, err)
	}

	config.fillDefaults()
	return &config, loadedPath, nil
}

// fillDefaults fills in default values for empty fields
func (c *PromptsConfig) fillDefaults() {
	d := DefaultPromptsConfig()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}

	fill(&c.Chat.SystemPrompt, d.Chat.SystemPrompt)
	fill(&c.Chat.PicDefaultPrompt, d.Chat.PicDefaultPrompt)
	fill(&c.Chat.LinkDefaultPrompt, d.Chat.LinkDefaultPrompt)
	fill(&c.History.CompressPrompt, d.History.CompressPrompt)
	fill(&c.Search.RewritePrompt, d.Search.RewritePrompt)
	fill(&c.Search.DecisionPrompt, d.Search.DecisionPrompt)
	fill(&c.Search.PositiveAnswer, d.Search.PositiveAnswer)
	fill(&c.Search.ContextPrompt, d.Search.ContextPrompt)
	fill(&c.Search.LinksIntro, d.Search.LinksIntro)
	fill(&c.Command.ResetReply, d.Command.ResetReply)
}

// ToPromptConfig converts to the pipeline prompt configuration
func (c *PromptsConfig) ToPromptConfig() usecase.PromptConfig {
	return usecase.PromptConfig{
		SystemPrompt:         c.Chat.SystemPrompt,
		CompressPrompt:       c.History.CompressPrompt,
		RewritePrompt:        c.Search.RewritePrompt,
		SearchDecisionPrompt: c.Search.DecisionPrompt,
		SearchPositiveAnswer: c.Search.PositiveAnswer,
		SearchContextPrompt:  c.Search.ContextPrompt,
		LinksIntro:           c.Search.LinksIntro,
		PicDefaultPrompt:     c.Chat.PicDefaultPrompt,
		LinkDefaultPrompt:    c.Chat.LinkDefaultPrompt,
		ResetReply:           c.Command.ResetReply,
	}
}

// DefaultPromptsConfig returns the default prompts configuration
func DefaultPromptsConfig() *PromptsConfig {
	d := usecase.DefaultPromptConfig
	return &PromptsConfig{
		Chat: ChatPrompts{
			SystemPrompt:      d.SystemPrompt,
			PicDefaultPrompt:  d.PicDefaultPrompt,
			LinkDefaultPrompt: d.LinkDefaultPrompt,
		},
		History: HistoryPrompts{CompressPrompt: d.CompressPrompt},
		Search: SearchPrompts{
			RewritePrompt:  d.RewritePrompt,
			DecisionPrompt: d.SearchDecisionPrompt,
			PositiveAnswer: d.SearchPositiveAnswer,
			ContextPrompt:  d.SearchContextPrompt,
			LinksIntro:     d.LinksIntro,
		},
		Command: CommandPrompts{ResetReply: d.ResetReply},
	}
}
