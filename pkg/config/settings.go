// Package config loads the moderator settings from viper (config file,
// MODERATOR_* environment and command line flags) and builds the operation
// catalogue and permission table they describe.
package config

import (
	"time"

	"github.com/go-go-golems/moderator/pkg/bot"
	"github.com/go-go-golems/moderator/pkg/history"
	"github.com/go-go-golems/moderator/pkg/llm/openai"
	"github.com/go-go-golems/moderator/pkg/operations"
	"github.com/go-go-golems/moderator/pkg/orchestrator"
	"github.com/go-go-golems/moderator/pkg/permissions"
	"github.com/go-go-golems/moderator/pkg/platform/mtproto"
	"github.com/go-go-golems/moderator/pkg/platform/telegram"
	"github.com/go-go-golems/moderator/pkg/records"
	"github.com/go-go-golems/moderator/pkg/records/telegraph"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type TelegramSettings struct {
	Token   string
	BaseURL string
	// PollTimeout is the long polling timeout in seconds.
	PollTimeout int
	Trigger     string
	Workers     int
	CacheSize   int

	// MTProto fetches reply chain messages the bot has not seen since startup.
	MTProto     bool
	AppID       int
	AppHash     string
	SessionFile string
}

type OpenAISettings struct {
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       float32
	MaxResponseTokens int
	// ContextTokens is the prompt budget the dialogue is trimmed to. 0 disables trimming.
	ContextTokens int
}

type TelegraphSettings struct {
	Token       string
	BaseURL     string
	PageBaseURL string
	AuthorName  string
	AuthorURL   string
	CacheSize   int
}

type BotSettings struct {
	SystemPrompt     string
	MaxFunctionCalls int
	MaxHistoryDepth  int
	Operations       []string
	Permissions      map[string][]string
	PermissionsFile  string
}

type Settings struct {
	Telegram  TelegramSettings
	OpenAI    OpenAISettings
	Telegraph TelegraphSettings
	Bot       BotSettings
}

// SetDefaults registers the default of every key, so that they also show up
// for viper.AllSettings and environment lookups.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("telegram.base-url", telegram.DefaultBaseURL)
	v.SetDefault("telegram.poll-timeout", int(telegram.DefaultPollTimeout/time.Second))
	v.SetDefault("telegram.trigger", bot.DefaultTrigger)
	v.SetDefault("telegram.workers", bot.DefaultWorkers)
	v.SetDefault("telegram.cache-size", telegram.DefaultCacheSize)
	v.SetDefault("telegram.mtproto", true)

	v.SetDefault("openai.model", openai.DefaultModel)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.max-response-tokens", 0)
	v.SetDefault("openai.context-tokens", 0)

	v.SetDefault("telegraph.base-url", telegraph.DefaultBaseURL)
	v.SetDefault("telegraph.page-base-url", telegraph.DefaultPageBaseURL)
	v.SetDefault("telegraph.author-name", "moderator")
	v.SetDefault("telegraph.cache-size", records.DefaultCacheSize)

	v.SetDefault("bot.max-function-calls", orchestrator.DefaultMaxCalls)
	v.SetDefault("bot.max-history-depth", history.DefaultMaxDepth)
}

// Load reads the settings from v. Defaults must have been registered with
// SetDefaults.
func Load(v *viper.Viper) *Settings {
	return &Settings{
		Telegram: TelegramSettings{
			Token:       v.GetString("telegram.token"),
			BaseURL:     v.GetString("telegram.base-url"),
			PollTimeout: v.GetInt("telegram.poll-timeout"),
			Trigger:     v.GetString("telegram.trigger"),
			Workers:     v.GetInt("telegram.workers"),
			CacheSize:   v.GetInt("telegram.cache-size"),
			MTProto:     v.GetBool("telegram.mtproto"),
			AppID:       v.GetInt("telegram.app-id"),
			AppHash:     v.GetString("telegram.app-hash"),
			SessionFile: v.GetString("telegram.session-file"),
		},
		OpenAI: OpenAISettings{
			APIKey:            v.GetString("openai.api-key"),
			BaseURL:           v.GetString("openai.base-url"),
			Model:             v.GetString("openai.model"),
			Temperature:       float32(v.GetFloat64("openai.temperature")),
			MaxResponseTokens: v.GetInt("openai.max-response-tokens"),
			ContextTokens:     v.GetInt("openai.context-tokens"),
		},
		Telegraph: TelegraphSettings{
			Token:       v.GetString("telegraph.token"),
			BaseURL:     v.GetString("telegraph.base-url"),
			PageBaseURL: v.GetString("telegraph.page-base-url"),
			AuthorName:  v.GetString("telegraph.author-name"),
			AuthorURL:   v.GetString("telegraph.author-url"),
			CacheSize:   v.GetInt("telegraph.cache-size"),
		},
		Bot: BotSettings{
			SystemPrompt:     v.GetString("bot.system-prompt"),
			MaxFunctionCalls: v.GetInt("bot.max-function-calls"),
			MaxHistoryDepth:  v.GetInt("bot.max-history-depth"),
			Operations:       v.GetStringSlice("bot.operations"),
			Permissions:      v.GetStringMapStringSlice("bot.permissions"),
			PermissionsFile:  v.GetString("bot.permissions-file"),
		},
	}
}

// Component names a part of the bot whose credentials Validate checks.
type Component string

const (
	ComponentTelegram  Component = "telegram"
	ComponentOpenAI    Component = "openai"
	ComponentTelegraph Component = "telegraph"
	// ComponentMTProto is only checked when telegram.mtproto is enabled.
	ComponentMTProto Component = "mtproto"
)

// Validate checks the caps and the credentials of the given components.
func (s *Settings) Validate(components ...Component) error {
	if s.Bot.MaxFunctionCalls <= 0 {
		return errors.Errorf("bot.max-function-calls must be positive, got %d", s.Bot.MaxFunctionCalls)
	}
	if s.Bot.MaxHistoryDepth <= 0 {
		return errors.Errorf("bot.max-history-depth must be positive, got %d", s.Bot.MaxHistoryDepth)
	}
	if s.Telegram.Workers <= 0 {
		return errors.Errorf("telegram.workers must be positive, got %d", s.Telegram.Workers)
	}
	if s.OpenAI.ContextTokens < 0 {
		return errors.Errorf("openai.context-tokens must not be negative, got %d", s.OpenAI.ContextTokens)
	}
	if s.Bot.PermissionsFile != "" && len(s.Bot.Permissions) > 0 {
		return errors.New("bot.permissions and bot.permissions-file are mutually exclusive")
	}

	for _, c := range components {
		switch c {
		case ComponentTelegram:
			if s.Telegram.Token == "" {
				return errors.New("telegram.token is required")
			}
		case ComponentOpenAI:
			if s.OpenAI.APIKey == "" {
				return errors.New("openai.api-key is required")
			}
		case ComponentTelegraph:
			if s.Telegraph.Token == "" {
				return errors.New("telegraph.token is required")
			}
		case ComponentMTProto:
			if !s.Telegram.MTProto {
				continue
			}
			if s.Telegram.AppID <= 0 || s.Telegram.AppHash == "" {
				return errors.New("telegram.app-id and telegram.app-hash are required, or disable telegram.mtproto")
			}
		default:
			return errors.Errorf("unknown component %s", c)
		}
	}
	return nil
}

// Catalogue returns the enabled subset of the built-in operations.
func (s *Settings) Catalogue() (*operations.Catalogue, error) {
	return operations.Builtin().Subset(s.Bot.Operations)
}

// Permissions builds the permission table from bot.permissions, or
// bot.permissions-file, falling back to the default table for catalogue.
func (s *Settings) Permissions(catalogue *operations.Catalogue) (*permissions.Table, error) {
	switch {
	case s.Bot.PermissionsFile != "":
		return permissions.LoadFile(s.Bot.PermissionsFile)
	case len(s.Bot.Permissions) > 0:
		return permissions.NewTableFromStrings(s.Bot.Permissions)
	default:
		return permissions.NewTable(permissions.DefaultEntries(catalogue.Names(), catalogue.ReadOnly()))
	}
}

func (s *Settings) TelegramClientSettings() telegram.Settings {
	return telegram.Settings{
		Token:       s.Telegram.Token,
		BaseURL:     s.Telegram.BaseURL,
		PollTimeout: time.Duration(s.Telegram.PollTimeout) * time.Second,
		CacheSize:   s.Telegram.CacheSize,
	}
}

func (s *Settings) MTProtoSettings() mtproto.Settings {
	return mtproto.Settings{
		AppID:       s.Telegram.AppID,
		AppHash:     s.Telegram.AppHash,
		BotToken:    s.Telegram.Token,
		SessionFile: s.Telegram.SessionFile,
	}
}

func (s *Settings) EngineSettings() openai.Settings {
	return openai.Settings{
		APIKey:      s.OpenAI.APIKey,
		BaseURL:     s.OpenAI.BaseURL,
		Model:       s.OpenAI.Model,
		Temperature: s.OpenAI.Temperature,
		MaxTokens:   s.OpenAI.MaxResponseTokens,
	}
}

// RecordStore returns the Telegraph store wrapped in a read cache.
func (s *Settings) RecordStore() (records.Store, error) {
	client := telegraph.NewClient(s.Telegraph.Token,
		telegraph.WithBaseURL(s.Telegraph.BaseURL),
		telegraph.WithPageBaseURL(s.Telegraph.PageBaseURL),
		telegraph.WithAuthor(s.Telegraph.AuthorName, s.Telegraph.AuthorURL),
	)
	store, err := records.NewCachingStore(client, s.Telegraph.CacheSize)
	if err != nil {
		return nil, err
	}
	return store, nil
}
