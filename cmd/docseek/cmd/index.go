package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/docseek/docseek/internal/scheduler"
)

func newIndexCmd(root *rootOptions) *cobra.Command {
	var incremental bool

	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Index a document directory",
		Long: `Index indexes every readable text document under the given path.

By default the whole index is rebuilt from scratch; --incremental only
re-indexes files whose content changed and removes vanished ones.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, root, args[0], incremental)
		},
	}

	cmd.Flags().BoolVar(&incremental, "incremental", false,
		"Only re-index changed files instead of rebuilding")

	return cmd
}

func runIndex(cmd *cobra.Command, root *rootOptions, target string, incremental bool) error {
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

	kind := scheduler.KindFullRebuild
	if incremental {
		kind = scheduler.KindIncremental
	}

	desc, err := eng.SubmitJob(abs, kind)
	if err != nil {
		return err
	}

	final, err := eng.WaitJob(desc.JobID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job %s %s\n", final.JobID, final.State)
	fmt.Fprintf(out, "  files found:      %d\n", final.Stats.FilesFound)
	fmt.Fprintf(out, "  files processed:  %d\n", final.Stats.FilesProcessed)
	fmt.Fprintf(out, "  files failed:     %d\n", final.Stats.FilesFailed)
	fmt.Fprintf(out, "  documents:        %d\n", final.Stats.DocumentsIndexed)
	if final.Error != "" {
		return fmt.Errorf("indexing failed: %s", final.Error)
	}
	return nil
}

// progressPrinter implements scheduler.Observer on stdout.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *progressPrinter) OnProgress(jobID, stage string, current, total int, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if total > 0 {
		fmt.Fprintf(p.out, "[%s] %s %d/%d %s\n", jobID, stage, current, total, message)
		return
	}
	fmt.Fprintf(p.out, "[%s] %s %s\n", jobID, stage, message)
}

func (p *progressPrinter) OnCompleted(jobID string, stats scheduler.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[%s] completed: %d documents\n", jobID, stats.DocumentsIndexed)
}

func (p *progressPrinter) OnError(jobID, kind, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "[%s] error (%s): %s\n", jobID, kind, message)
}
