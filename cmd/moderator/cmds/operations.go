package cmds

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type operationDescription struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	ReadOnly    bool                   `yaml:"read-only"`
	Roles       []string               `yaml:"roles"`
	Parameters  map[string]interface{} `yaml:"parameters"`
}

func NewOperationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "Print the enabled operations, their parameters and the roles allowed to call them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			catalogue, err := s.Catalogue()
			if err != nil {
				return err
			}
			table, err := s.Permissions(catalogue)
			if err != nil {
				return err
			}

			var ret []operationDescription
			for _, o := range catalogue.List() {
				schema, err := o.SchemaJSON()
				if err != nil {
					return err
				}
				roles := []string{}
				for _, r := range table.Roles() {
					if table.Permitted(r, o.Name) {
						roles = append(roles, string(r))
					}
				}
				ret = append(ret, operationDescription{
					Name:        o.Name,
					Description: o.Description,
					ReadOnly:    o.ReadOnly,
					Roles:       roles,
					Parameters:  schema,
				})
			}

			encoder := yaml.NewEncoder(os.Stdout)
			encoder.SetIndent(2)
			defer func() {
				_ = encoder.Close()
			}()
			return encoder.Encode(ret)
		},
	}
}
