package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpayne/fleetwatch/pkg/config"
)

func NewRulesCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the rule catalog",
	}

	cmd.AddCommand(newRulesListCommand(root))
	cmd.AddCommand(newRulesValidateCommand(root))
	return cmd
}

func newRulesListCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List alert and scaling rules from the rules file",
		RunE: func(cmd *cobra.Command, args []string) error {
			alertRules, scalingRules, err := config.LoadRules(root.Config().Alerting.RulesFile)
			if err != nil {
				return err
			}

			opts := root.OutputOptions()
			if opts.Format == OutputJSON || opts.Format == OutputYAML {
				return PrintOutput(config.RulesFile{
					AlertRules:   alertRules,
					ScalingRules: scalingRules,
				}, opts)
			}

			fmt.Fprintf(opts.Writer, "Alert rules (%d)\n", len(alertRules))
			if err := PrintOutput(alertRules, opts); err != nil {
				return err
			}
			fmt.Fprintf(opts.Writer, "\nScaling rules (%d)\n", len(scalingRules))
			return PrintOutput(scalingRules, opts)
		},
	}
}

func newRulesValidateCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the rules file without starting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.Config().Alerting.RulesFile
			alertRules, scalingRules, err := config.LoadRules(path)
			if err != nil {
				return err
			}
			opts := root.OutputOptions()
			fmt.Fprintf(opts.Writer, "%s: %d alert rules, %d scaling rules, all valid\n",
				path, len(alertRules), len(scalingRules))
			return nil
		},
	}
}
