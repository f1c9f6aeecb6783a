package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Prints the configuration after applying defaults, the --config file and
CMAES_* environment variables, as YAML that can be saved and edited.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := appConfig.Marshal()
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
