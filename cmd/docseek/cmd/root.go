// Package cmd provides the CLI commands for docseek.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docseek/docseek/internal/engine"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	dataDir    string
	configPath string
}

// NewRootCmd creates the root command for the docseek CLI.
func NewRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:   "docseek",
		Short: "Local hybrid search over document collections",
		Long: `Docseek indexes local document collections and answers full-text,
semantic and hybrid queries without any network access.

The index lives in a .docseek directory; point --data-dir somewhere
else to keep it apart from the documents.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "",
		"Index directory (default .docseek in the working directory)")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"Path to a .docseek.yaml config file")

	cmd.AddCommand(newIndexCmd(&opts))
	cmd.AddCommand(newSearchCmd(&opts))
	cmd.AddCommand(newWatchCmd(&opts))
	cmd.AddCommand(newStatusCmd(&opts))

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// openEngine builds an engine from the shared flags.
func (o *rootOptions) openEngine(observer *progressPrinter) (*engine.Engine, error) {
	dataDir := o.dataDir
	if dataDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dataDir = filepath.Join(wd, ".docseek")
	}

	configPath := o.configPath
	if configPath == "" {
		configPath = filepath.Join(filepath.Dir(dataDir), ".docseek.yaml")
	}

	engOpts := engine.Options{ConfigPath: configPath}
	if observer != nil {
		engOpts.Observer = observer
	}

	eng, err := engine.Open(dataDir, engOpts)
	if err != nil {
		return nil, fmt.Errorf("open index at %s: %w", dataDir, err)
	}
	return eng, nil
}
