package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics and active jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, root)
		},
	}
	return cmd
}

func runStatus(cmd *cobra.Command, root *rootOptions) error {
	eng, err := root.openEngine(nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	ft, vec, cat, err := eng.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "documents (full-text): %d\n", ft)
	fmt.Fprintf(out, "documents (semantic):  %d\n", vec)
	fmt.Fprintf(out, "documents (catalog):   %d\n", cat)
	fmt.Fprintf(out, "embedding model:       %s\n", eng.Config().Embedding.ModelID)
	if eng.Degraded() {
		fmt.Fprintln(out, "embedding model:       DEGRADED (full-text only)")
	}

	jobs := eng.ListJobs()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "jobs:                  none")
		return nil
	}
	fmt.Fprintln(out, "jobs:")
	for _, j := range jobs {
		fmt.Fprintf(out, "  %s  %-12s %-12s %s\n", j.JobID, j.Kind, j.State, j.TargetPath)
	}
	return nil
}
