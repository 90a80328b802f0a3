package cmds

import (
	"github.com/go-go-golems/moderator/pkg/config"
	"github.com/go-go-golems/moderator/pkg/dialogue"
	"github.com/go-go-golems/moderator/pkg/executor"
	"github.com/go-go-golems/moderator/pkg/llm/openai"
	"github.com/go-go-golems/moderator/pkg/operations"
	"github.com/go-go-golems/moderator/pkg/orchestrator"
	"github.com/go-go-golems/moderator/pkg/permissions"
	"github.com/go-go-golems/moderator/pkg/prompt"
	"github.com/go-go-golems/moderator/pkg/records"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func loadSettings(components ...config.Component) (*config.Settings, error) {
	s := config.Load(viper.GetViper())
	if err := s.Validate(components...); err != nil {
		return nil, err
	}
	return s, nil
}

// bindFlag makes a command line flag override the config key.
func bindFlag(cmd *cobra.Command, key string, flag string) {
	cobra.CheckErr(viper.BindPFlag(key, cmd.Flags().Lookup(flag)))
}

// pipeline is what every request needs, independently of where it comes from.
type pipeline struct {
	catalogue *operations.Catalogue
	table     *permissions.Table
	prompt    *prompt.Template
	loop      *orchestrator.Loop
	counter   dialogue.TokenCounter
}

func newPipeline(s *config.Settings, store records.Store) (*pipeline, error) {
	catalogue, err := s.Catalogue()
	if err != nil {
		return nil, err
	}
	table, err := s.Permissions(catalogue)
	if err != nil {
		return nil, err
	}
	tmpl, err := prompt.Parse(s.Bot.SystemPrompt)
	if err != nil {
		return nil, err
	}
	engine, err := openai.NewEngine(s.EngineSettings())
	if err != nil {
		return nil, err
	}

	exec := executor.New(s.Telegram.Token, catalogue, table, executor.WithBaseURL(s.Telegram.BaseURL))
	loop := orchestrator.New(engine, exec, store, catalogue, orchestrator.WithMaxCalls(s.Bot.MaxFunctionCalls))

	ret := &pipeline{
		catalogue: catalogue,
		table:     table,
		prompt:    tmpl,
		loop:      loop,
	}
	if s.OpenAI.ContextTokens > 0 {
		counter, err := dialogue.NewTiktokenCounter(s.OpenAI.Model)
		if err != nil {
			return nil, err
		}
		ret.counter = counter
	}
	return ret, nil
}
