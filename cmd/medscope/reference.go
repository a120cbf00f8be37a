// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/medscope/internal/reference"
	"github.com/pdiddy/medscope/internal/scope"
)

var referenceCmd = &cobra.Command{
	Use:   "reference",
	Short: "Inspect and validate reference tables",
	Long: `Reference tables hold the threshold rules, rare-condition incidence,
fairness constants, baseline cohort and lab aliases the engine runs on.
The built-in tables can be overridden with a YAML file (--reference or
engine.reference_file); keys left out keep their built-in values.`,
}

var referenceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective reference tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		ref, err := reference.Load(cfg.Engine.ReferenceFile)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), format, ref.Document())
	},
}

var referenceValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a reference tables file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := reference.Load(args[0])
		if err != nil {
			return err
		}
		fp, err := scope.Fingerprint(ref.Document())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d rules, %d rare conditions, fingerprint %s)\n",
			args[0], len(ref.Rules()), len(ref.RareConditions()), fp[:16])
		return nil
	},
}

func init() {
	referenceShowCmd.Flags().String("format", "yaml", "output format: yaml or json")

	referenceCmd.AddCommand(referenceShowCmd)
	referenceCmd.AddCommand(referenceValidateCmd)
	rootCmd.AddCommand(referenceCmd)
}
