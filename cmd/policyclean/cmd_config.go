package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/David-Botos/policy-cleaner/pkg/config"
)

// configCmd groups the configuration commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

// configCheckCmd validates an engine config file
var configCheckCmd = &cobra.Command{
	Use:   "check [engine-config]",
	Short: "Validate an engine config and print the effective rule table",
	Long: `Loads and validates the engine config given as argument, or ENGINE_CONFIG
when no argument is given, or the built-in defaults when neither is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: checkConfig,
}

func init() {
	configCmd.AddCommand(configCheckCmd)
}

func checkConfig(cmd *cobra.Command, args []string) error {
	path := cfg.EngineConfig
	if len(args) == 1 {
		path = args[0]
	}

	engine, err := config.LoadEngineConfig(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	source := path
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(out, "Engine config OK (%s)\n\n", source)

	fmt.Fprintln(out, "Fields:")
	for _, f := range engine.Fields {
		var attrs []string
		if f.Required {
			attrs = append(attrs, "required")
		}
		if f.Default != nil {
			attrs = append(attrs, fmt.Sprintf("default=%q", *f.Default))
		}
		if len(f.Replace) > 0 {
			attrs = append(attrs, fmt.Sprintf("replace=%d", len(f.Replace)))
		}
		fmt.Fprintf(out, "  %-28s %-7s %s\n", f.Name, f.Type, strings.Join(attrs, " "))
	}

	fmt.Fprintf(out, "\nDate formats: %s\n", strings.Join(engine.DateFormats, ", "))

	fmt.Fprintln(out, "\nRules (firing order):")
	for _, rc := range engine.ActiveRules() {
		fmt.Fprintf(out, "  %3d  %-26s tolerance=%dd\n", rc.Priority, rc.ID, rc.ToleranceDays)
	}
	return nil
}
