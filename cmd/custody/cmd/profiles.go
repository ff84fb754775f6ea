package cmd

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/custody/custody"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the custodian profiles",
	RunE:  runProfiles,
}

var detectCmd = &cobra.Command{
	Use:   "detect NAME...",
	Short: "Detect the custodian and record date of file or collection names",
	Long: `Detect runs the same detection the loader uses on each name and prints
the custodian type and the record date found in the name.

Example:
  custody detect axis_eod_25062025.xlsx kotak_2025-06-25`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(detectCmd)
}

func runProfiles(cmd *cobra.Command, args []string) error {
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	for _, p := range reg.Profiles() {
		fmt.Printf("%-14s %-24s header row %d\n", p.ID, strings.Join(p.FileExtensions, ","), p.HeaderRowOffset)
		fmt.Printf("  required: %s\n", joinFields(p.Required))
		if len(p.Summed) > 0 {
			fmt.Printf("  summed:   %s\n", joinFields(p.Summed))
		}
	}
	return nil
}

func joinFields(fs []custody.Field) string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

func runDetect(cmd *cobra.Command, args []string) error {
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	for _, name := range args {
		date := "-"
		if d, ok := custody.DateFromName(name); ok {
			date = custody.FormatDate(d)
		}
		fmt.Printf("%-40s %-14s %s\n", name, reg.Detect(name), date)
	}
	return nil
}
