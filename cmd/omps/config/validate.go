package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/operator-framework/omps/pkg/config"
)

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with omps configuration files",
	}
	cmd.AddCommand(newValidateCmd())
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate an omps configuration file",
		Long:  "Load a configuration file the way the service does, report every problem found and print the organizations it configures",
		Args:  cobra.ExactArgs(1),
		RunE:  validate,
	}
}

func validate(cmd *cobra.Command, args []string) error {
	logger := logrus.WithField("cmd", "validate")

	cfg, err := config.Load(args[0])
	if err != nil {
		logger.WithError(err).Error("configuration is invalid")
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "configuration %s is valid\n", args[0])
	for _, name := range cfg.Organizations() {
		org := cfg.Organization(name)
		fmt.Fprintf(out, "organization %s: public=%t rewrite_rules=%d suffix=%q\n",
			name, org.Public, len(org.ReplaceRegistry), org.PackageNameSuffix)
	}
	return nil
}
