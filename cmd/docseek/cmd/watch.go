package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var rebuildFirst bool

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Watch a directory and keep the index current",
		Long: `Watch observes the given directory and incrementally re-indexes
files as they change. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, root, args[0], rebuildFirst)
		},
	}

	cmd.Flags().BoolVar(&rebuildFirst, "rebuild", false,
		"Rebuild the index before watching")

	return cmd
}

func runWatch(cmd *cobra.Command, root *rootOptions, target string, rebuildFirst bool) error {
	abs, err := filepath.Abs(target)
	if err != nil {
		return err
	}

	printer := &progressPrinter{out: cmd.OutOrStdout()}
	eng, err := root.openEngine(printer)
	if err != nil {
		return err
	}
	defer eng.Close()

	if rebuildFirst {
		desc, err := eng.Rebuild(abs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rebuild %s: %d documents\n",
			desc.State, desc.Stats.DocumentsIndexed)
	}

	if err := eng.Watch(abs); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "watching %s (ctrl-c to stop)\n", abs)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-cmd.Context().Done():
	case <-sigCh:
	}

	fmt.Fprintln(cmd.OutOrStdout(), "stopping")
	return nil
}
