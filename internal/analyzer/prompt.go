package analyzer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/threadkeep/internal/config"
	"github.com/nao1215/threadkeep/internal/model"
)

// topCommentLimit is the number of top-level comments sent with a post.
const topCommentLimit = 10

// Prompt is the conversation frame wrapped around every post.
type Prompt struct {
	System string

	// UserTemplate must contain config.PostJSONPlaceholder.
	UserTemplate string
}

// promptFile is the on-disk layout of an LLM prompt file.
// first_message is accepted as an alias of user_message_template.
type promptFile struct {
	SystemPrompt        string `yaml:"system_prompt"`
	FirstMessage        string `yaml:"first_message"`
	UserMessageTemplate string `yaml:"user_message_template"`
	APIKey              string `yaml:"api_key"`
}

// LoadPromptFile reads a YAML prompt file. The returned key is empty when
// the file does not carry one.
func LoadPromptFile(path string) (Prompt, string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the user's configuration
	if err != nil {
		return Prompt{}, "", fmt.Errorf("failed to read prompt file: %w", err)
	}

	var pf promptFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return Prompt{}, "", fmt.Errorf("failed to parse prompt file %s: %w", path, err)
	}

	tmpl := pf.UserMessageTemplate
	if tmpl == "" {
		tmpl = pf.FirstMessage
	}
	return Prompt{System: pf.SystemPrompt, UserTemplate: tmpl}, pf.APIKey, nil
}

// resolvePrompt combines inline settings with an optional prompt file.
// Values from the file win over inline values; the API key from the file is
// only used when none is configured.
func resolvePrompt(cfg config.LLMConfig) (Prompt, string, error) {
	p := Prompt{System: cfg.SystemPrompt, UserTemplate: cfg.UserMessageTemplate}
	key := cfg.APIKey

	if cfg.PromptFile != "" {
		fp, fileKey, err := LoadPromptFile(cfg.PromptFile)
		if err != nil {
			return Prompt{}, "", err
		}
		if fp.System != "" {
			p.System = fp.System
		}
		if fp.UserTemplate != "" {
			p.UserTemplate = fp.UserTemplate
		}
		if key == "" {
			key = fileKey
		}
	}

	if p.UserTemplate == "" {
		p.UserTemplate = config.PostJSONPlaceholder
	}
	if !strings.Contains(p.UserTemplate, config.PostJSONPlaceholder) {
		return Prompt{}, "", ErrNoPlaceholder
	}
	return p, key, nil
}

// postPayload is the JSON shape of a post sent to the model.
type postPayload struct {
	Title       string         `json:"title"`
	Selftext    string         `json:"selftext"`
	TopComments []commentBrief `json:"top_comments"`
	FlairText   string         `json:"flair_text"`
	CreatedTime string         `json:"created_time"`
	Score       int            `json:"score"`
}

type commentBrief struct {
	Text    string         `json:"text"`
	Score   int            `json:"score"`
	Replies []commentBrief `json:"replies,omitempty"`
}

func briefComments(nodes []*model.CommentNode) []commentBrief {
	out := make([]commentBrief, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		out = append(out, commentBrief{
			Text:    n.Text,
			Score:   n.Score,
			Replies: briefComments(n.Replies),
		})
	}
	return out
}

// UserMessage renders the user message for item.
func (p Prompt) UserMessage(item *model.ContentItem) (string, error) {
	roots := item.Comments
	if len(roots) > topCommentLimit {
		roots = roots[:topCommentLimit]
	}

	payload := postPayload{
		Title:       item.Title,
		Selftext:    item.Body,
		TopComments: briefComments(roots),
		FlairText:   item.FlairText,
		CreatedTime: item.CreatedTime,
		Score:       item.Score,
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode post %s: %w", item.ItemID, err)
	}
	return strings.ReplaceAll(p.UserTemplate, config.PostJSONPlaceholder, string(data)), nil
}
