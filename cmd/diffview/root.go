package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kandev/diffview/internal/common/config"
	"github.com/kandev/diffview/internal/i18n"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configDir string
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.LoadWithPath(o.configDir)
}

func newRootCmd(tr *i18n.Translator) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "diffview",
		Short:         tr.T("cli.short"),
		Long:          tr.T("cli.long"),
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config", "", "Directory containing config.yaml")

	root.AddCommand(
		newServeCmd(opts, tr),
		newI18nCmd(tr),
		newEventsCmd(opts, tr),
		newVersionCmd(tr),
	)
	return root
}

func newVersionCmd(tr *i18n.Translator) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: tr.T("cli.versionShort"),
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "diffview "+version)
		},
	}
}
