package usecase

import (
	"strings"
	"time"
)

// PromptConfig holds every prompt the pipeline sends to the model.
// Placeholders use the {{name}} form.
type PromptConfig struct {
	SystemPrompt         string // {{histories}}
	CompressPrompt       string // {{user}}, {{histories}}
	RewritePrompt        string // {{histories}}, {{content}}
	SearchDecisionPrompt string // {{content}}
	SearchPositiveAnswer string
	SearchContextPrompt  string // {{net_content}}, {{question}}
	LinksIntro           string
	PicDefaultPrompt     string
	LinkDefaultPrompt    string
	ResetReply           string
}

// DefaultPromptConfig is used when no prompts file overrides a value
var DefaultPromptConfig = PromptConfig{
	SystemPrompt: `You are a friendly assistant chatting with a user in an instant messaging app.
Answer in the user's language. Keep replies short and conversational, like a chat message, not an article.
Do not use markdown headings or tables.

Recent conversation, oldest first (may be empty or summarized):
{{histories}}`,
	CompressPrompt: `Below is a recent chat log between {{user}} and an assistant. Each line is "#<time> #<speaker> #<content>".
Summarize it into a short context description that keeps who asked what, the topics discussed and any question still open.
Stay under 150 words and output the summary only.

{{histories}}`,
	RewritePrompt: `Rewrite the user's latest message into one self-contained question, resolving pronouns and omitted subjects from the chat history.
If the message is already self-contained, repeat it unchanged. Output the question only.

Chat history:
{{histories}}

Latest message:
{{content}}`,
	SearchDecisionPrompt: `Decide whether answering the question below needs up-to-date information from a web search
(news, weather, prices, recent events, facts you are unsure about).
Answer with exactly one word: YES or NO.

Question:
{{content}}`,
	SearchPositiveAnswer: "YES",
	SearchContextPrompt: `Use the reference material below to answer the question. Ignore material that is irrelevant.
If the material does not contain the answer, say so briefly and answer from your own knowledge.

Reference material:
{{net_content}}

Question:
{{question}}`,
	LinksIntro:        "Picked some links.",
	PicDefaultPrompt:  "Describe what is in this picture and comment on it briefly.",
	LinkDefaultPrompt: "Summarize the main points of this page.",
	ResetReply:        "done",
}

// ChatflowConfig holds pipeline tuning
type ChatflowConfig struct {
	ChatModel          string // final reply model
	ConsiderModel      string // helper calls: compress, rewrite, search decision
	Temperature        float32
	HistoryWindow      time.Duration
	CompressThreshold  int // history characters above which it is summarized
	SearchContextLimit int
	SearchLinkLimit    int
}

// DefaultChatflowConfig returns the default pipeline tuning
func DefaultChatflowConfig() ChatflowConfig {
	return ChatflowConfig{
		ChatModel:          "gpt-4o",
		ConsiderModel:      "gpt-4o-mini",
		Temperature:        0.1,
		HistoryWindow:      30 * time.Minute,
		CompressThreshold:  300,
		SearchContextLimit: 10,
		SearchLinkLimit:    2,
	}
}

// IntakeConfig holds intake routing settings
type IntakeConfig struct {
	TextDelay    time.Duration
	PicDelay     time.Duration
	ResetCommand string
}

// DefaultIntakeConfig returns the default intake settings
func DefaultIntakeConfig() IntakeConfig {
	return IntakeConfig{
		TextDelay:    3 * time.Second,
		PicDelay:     15 * time.Second,
		ResetCommand: "remake",
	}
}

// render substitutes {{key}} placeholders
func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
