package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dialecticlabs/dialectic/internal/manifest"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan a campaign manifest without enqueuing jobs",
	Long: `Normalizes the campaign configuration, derives its content-addressed
manifest id, and stores the manifest. Planning the same configuration twice
returns the existing manifest. No jobs are enqueued; use dispatch for that.`,
	RunE: runPlan,
}

var planConfigPath string

func init() {
	planCmd.Flags().StringVarP(&planConfigPath, "config", "c", "", "Path to campaign config JSON (default: DIALECTIC_CAMPAIGN env, or the built-in campaign)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if planConfigPath != "" {
		a.settings.CampaignPath = planConfigPath
	}

	cfg, err := a.campaign()
	if err != nil {
		return err
	}

	builder := manifest.NewBuilder(a.store, a.registry, a.logger)
	m, specs, err := builder.Plan(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "manifest %s (%d jobs)\n", m.ManifestID, m.TotalJobs)
	for _, spec := range specs {
		fmt.Fprintf(out, "  %s x %s\n", spec.ModelID, spec.ScenarioID)
	}
	return nil
}
