package config

import "time"

// Default language model settings.
const (
	DefaultLLMModel       = "deepseek-chat"
	DefaultLLMBaseURL     = "https://api.deepseek.com/v1"
	DefaultLLMMaxRetries  = 3
	DefaultLLMMaxTokens   = 4000
	DefaultLLMTemperature = 0.7
	DefaultLLMDelay       = 1 * time.Second

	// PostJSONPlaceholder is replaced by the post JSON in the user message template.
	PostJSONPlaceholder = "{post_json}"
)

// TargetConfig holds community-specific settings.
type TargetConfig struct {
	// TargetCount overrides the global number of posts to collect.
	TargetCount int `yaml:"target_count,omitempty"`

	// SamplingRatios overrides the global listing source mix.
	SamplingRatios map[string]float64 `yaml:"sampling_ratios,omitempty"`

	// Cookie is sent by the browser fetcher and HTTP clients.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers to include in requests for this community.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// LLMConfig holds settings for the OpenAI-compatible analysis endpoint.
type LLMConfig struct {
	Model   string `yaml:"model,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`

	// PromptFile is an optional YAML file holding system_prompt and first_message.
	PromptFile string `yaml:"prompt_file,omitempty"`

	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// UserMessageTemplate must contain {post_json}.
	UserMessageTemplate string `yaml:"user_message_template,omitempty"`

	MaxRetries  int           `yaml:"max_retries,omitempty"`
	MaxTokens   int           `yaml:"max_tokens,omitempty"`
	Temperature float32       `yaml:"temperature,omitempty"`
	Delay       time.Duration `yaml:"delay,omitempty"`
}

// DefaultLLMConfig returns the built-in language model settings.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:               DefaultLLMModel,
		BaseURL:             DefaultLLMBaseURL,
		UserMessageTemplate: PostJSONPlaceholder,
		MaxRetries:          DefaultLLMMaxRetries,
		MaxTokens:           DefaultLLMMaxTokens,
		Temperature:         DefaultLLMTemperature,
		Delay:               DefaultLLMDelay,
	}
}

// merge returns l with every non-zero field of o applied on top.
func (l LLMConfig) merge(o LLMConfig) LLMConfig {
	if o.Model != "" {
		l.Model = o.Model
	}
	if o.BaseURL != "" {
		l.BaseURL = o.BaseURL
	}
	if o.APIKey != "" {
		l.APIKey = o.APIKey
	}
	if o.PromptFile != "" {
		l.PromptFile = o.PromptFile
	}
	if o.SystemPrompt != "" {
		l.SystemPrompt = o.SystemPrompt
	}
	if o.UserMessageTemplate != "" {
		l.UserMessageTemplate = o.UserMessageTemplate
	}
	if o.MaxRetries > 0 {
		l.MaxRetries = o.MaxRetries
	}
	if o.MaxTokens > 0 {
		l.MaxTokens = o.MaxTokens
	}
	if o.Temperature > 0 {
		l.Temperature = o.Temperature
	}
	if o.Delay > 0 {
		l.Delay = o.Delay
	}
	return l
}

// File represents the structure of the .threadkeep.yaml configuration file.
type File struct {
	// Targets maps community names (without the r/ prefix) to their settings.
	Targets map[string]TargetConfig `yaml:"targets,omitempty"`

	// Defaults applies to all communities unless overridden in Targets.
	Defaults TargetConfig `yaml:"defaults,omitempty"`

	Listing      string `yaml:"listing,omitempty"`
	Fetcher      string `yaml:"fetcher,omitempty"`
	UpsertMode   string `yaml:"upsert_mode,omitempty"`
	ProxyAddress string `yaml:"proxy,omitempty"`
	UserAgent    string `yaml:"user_agent,omitempty"`

	// Schedule is a cron expression for the schedule command.
	Schedule string `yaml:"schedule,omitempty"`

	LLM LLMConfig `yaml:"llm,omitempty"`
}

// GetTargetConfig returns the configuration for a community.
// It merges the community-specific configuration with defaults.
func (cf *File) GetTargetConfig(group string) TargetConfig {
	result := cf.Defaults

	if target, ok := cf.Targets[group]; ok {
		if target.Cookie != "" {
			result.Cookie = target.Cookie
		}
		if target.TargetCount != 0 {
			result.TargetCount = target.TargetCount
		}
		if len(target.SamplingRatios) > 0 {
			result.SamplingRatios = target.SamplingRatios
		}
		if len(target.Headers) > 0 {
			headers := make(map[string]string, len(result.Headers)+len(target.Headers))
			for k, v := range result.Headers {
				headers[k] = v
			}
			for k, v := range target.Headers {
				headers[k] = v
			}
			result.Headers = headers
		}
	}

	return result
}
