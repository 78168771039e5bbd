package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Plan a campaign and enqueue its dialogue jobs",
	Long: `Plans (or re-reads) the campaign manifest and enqueues one dialogue job
per model/scenario pair. Re-dispatching is safe: existing runs are not
duplicated, their jobs are simply re-enqueued for the idempotent executor.`,
	RunE: runDispatch,
}

var dispatchConfigPath string

func init() {
	dispatchCmd.Flags().StringVarP(&dispatchConfigPath, "config", "c", "", "Path to campaign config JSON (default: DIALECTIC_CAMPAIGN env, or the built-in campaign)")
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if dispatchConfigPath != "" {
		a.settings.CampaignPath = dispatchConfigPath
	}

	m, created, err := a.planAndDispatch(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "manifest %s: %d new runs, %d jobs enqueued\n", m.ManifestID, created, m.TotalJobs)
	return nil
}
