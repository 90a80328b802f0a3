package cmds

import (
	"os"

	"github.com/go-go-golems/moderator/pkg/records/telegraph"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func NewRecordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "record URL...",
		Short: "Read call records from the paste service and print them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			// reading pages needs no access token
			client := telegraph.NewClient(s.Telegraph.Token,
				telegraph.WithBaseURL(s.Telegraph.BaseURL),
				telegraph.WithPageBaseURL(s.Telegraph.PageBaseURL),
			)

			encoder := yaml.NewEncoder(os.Stdout)
			encoder.SetIndent(2)
			defer func() {
				_ = encoder.Close()
			}()

			for _, url := range args {
				if !client.Owns(url) {
					return errors.Errorf("%s is not a call record page", url)
				}
				r, err := client.Read(cmd.Context(), url)
				if err != nil {
					return err
				}
				if err := encoder.Encode(map[string]interface{}{"url": url, "record": r}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
