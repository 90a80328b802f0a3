package cmds

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/moderator/pkg/config"
	"github.com/go-go-golems/moderator/pkg/dialogue"
	"github.com/go-go-golems/moderator/pkg/operations"
	"github.com/go-go-golems/moderator/pkg/orchestrator"
	"github.com/go-go-golems/moderator/pkg/permissions"
	"github.com/go-go-golems/moderator/pkg/platform"
	"github.com/go-go-golems/moderator/pkg/prompt"
	"github.com/go-go-golems/moderator/pkg/records"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewAskCommand runs a single request outside of Telegram. Operations are
// still executed against the Bot API for --chat-id.
func NewAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [flags] TEXT...",
		Short: "Run one request without the chat platform and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			chatID, _ := cmd.Flags().GetInt64("chat-id")
			storeName, _ := cmd.Flags().GetString("store")
			printDialogue, _ := cmd.Flags().GetBool("print-dialogue")

			components, err := askComponents(storeName)
			if err != nil {
				return err
			}
			s, err := loadSettings(components...)
			if err != nil {
				return err
			}

			var store records.Store = records.NewMemoryStore()
			if storeName == "telegraph" {
				store, err = s.RecordStore()
				if err != nil {
					return err
				}
			}

			p, err := newPipeline(s, store)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			system, err := p.prompt.Render(prompt.Data{
				ChatID:     chatID,
				Role:       role,
				Operations: p.table.Allowed(permissions.Role(role), p.catalogue.Names()),
				Now:        time.Now(),
			})
			if err != nil {
				return err
			}
			d := dialogue.Dialogue{dialogue.NewSystemTurn(system), dialogue.NewUserTurn(text)}

			logger := log.With().Str("request_id", uuid.NewString()).Logger()
			ctx := logger.WithContext(cmd.Context())

			tc := orchestrator.NewThreadContext(operations.Source{ChatID: chatID}, permissions.Role(role), d)
			res, err := p.loop.Run(ctx, tc)
			if err != nil {
				return err
			}

			if printDialogue {
				for _, t := range res.Dialogue {
					fmt.Println(t.String())
				}
				fmt.Println()
			}
			fmt.Println(strings.ReplaceAll(res.Text, platform.LinkMarker, ""))
			for _, ref := range res.Refs {
				fmt.Println(ref)
			}
			return nil
		},
	}

	cmd.Flags().String("role", string(permissions.RoleMember), "Role of the asking user")
	cmd.Flags().Int64("chat-id", 0, "Chat the operations are executed in")
	cmd.Flags().String("store", "memory", "Call record store (memory, telegraph)")
	cmd.Flags().Bool("print-dialogue", false, "Print the whole dialogue before the reply")

	return cmd
}

// askComponents lists the settings ask needs. Operations always go to the Bot
// API, so the telegram token is required even with the memory store.
func askComponents(store string) ([]config.Component, error) {
	components := []config.Component{config.ComponentTelegram, config.ComponentOpenAI}
	switch store {
	case "memory":
	case "telegraph":
		components = append(components, config.ComponentTelegraph)
	default:
		return nil, errors.Errorf("unknown store %s, expected memory or telegraph", store)
	}
	return components, nil
}
