package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexhost/configs"
	"github.com/Aman-CERP/indexhost/internal/config"
	"github.com/Aman-CERP/indexhost/internal/errors"
	"github.com/Aman-CERP/indexhost/internal/output"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an example configuration file",
		Long: `Write a commented example configuration to ./indexhost.yaml, or to path.

The example defines one writable index named catalog. Edit it, then run
'indexhost check' and 'indexhost serve'.`,
		Example: `  indexhost init
  indexhost init /etc/indexhost/indexhost.yaml --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigFile
			if len(args) == 1 {
				path = args[0]
			}
			return runInit(cmd, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func runInit(cmd *cobra.Command, path string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	if _, err := os.Stat(path); err == nil && !force {
		return errors.New(errors.ErrCodeConfigInvalid, path+" already exists", nil).
			WithSuggestion("Use --force to overwrite it")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.IOError("failed to create "+dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(configs.ExampleConfig), 0o644); err != nil {
		return errors.IOError("failed to write "+path, err)
	}

	out.Successf("Wrote %s", path)
	return nil
}
