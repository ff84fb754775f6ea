package cmd

import (
	"fmt"

	"github.com/rustyeddy/custody/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage loader configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  custody config init -o custody.yaml
  custody config validate -f custody.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check that a configuration file loads and passes validation. CUSTODY_*
environment overrides are applied on top of the file.`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "custody.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	c := config.Default()
	if err := c.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nAdd your sources and run with:")
	fmt.Printf("  custody run --config %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	c, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Store: %s (prefix %s)\n", c.Store.Driver, c.Store.TablePrefix)
	fmt.Printf("  Workers: %d, batch size %d\n", c.Runner.PoolSize(), c.Runner.BatchSize)
	for _, s := range c.Sources {
		fmt.Printf("  Source: %s (%s)\n", s.Name, s.Key())
	}
	return nil
}
