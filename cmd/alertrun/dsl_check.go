package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/alertrun/internal/dsl"
)

// newDSLCheckCmd builds the "dsl" command group, currently holding
// only "check": validates a composite expression without registering
// it, printing its canonical form, fingerprint, cooldown, and leaf
// conditions. Useful for authoring alert expressions offline.
func newDSLCheckCmd() *cobra.Command {
	dslCmd := &cobra.Command{
		Use:   "dsl",
		Short: "Composite expression authoring helpers",
	}

	checkCmd := &cobra.Command{
		Use:   "check <expr>",
		Short: "Parse and validate a composite alert expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := dsl.Parse(args[0])
			if err != nil {
				return fmt.Errorf("dsl: %w", err)
			}

			cooldownSec, hasCooldown := dsl.CooldownSeconds(root)
			inner := dsl.StripCooldown(root)

			fmt.Printf("canonical: %s\n", dsl.Canonicalize(inner))
			fmt.Printf("fingerprint: %d\n", dsl.Fingerprint(root))
			if hasCooldown {
				fmt.Printf("cooldown_seconds: %d\n", cooldownSec)
			}

			fmt.Println("leaves:")
			for _, cond := range dsl.Collect(inner) {
				fmt.Printf("  %s %s %v\n", cond.Module, cond.Op, cond.Params)
			}
			return nil
		},
	}

	dslCmd.AddCommand(checkCmd)
	return dslCmd
}
