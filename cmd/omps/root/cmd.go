package root

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/operator-framework/omps/cmd/omps/config"
	"github.com/operator-framework/omps/cmd/omps/gc"
	"github.com/operator-framework/omps/cmd/omps/manifests"
	"github.com/operator-framework/omps/cmd/omps/serve"
	"github.com/operator-framework/omps/cmd/omps/version"
)

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "omps",
		Short: "Operator manifest push service",
		Long:  `omps publishes operator manifest bundles, uploaded as zip archives or taken from build-system builds, as releases of application registry repositories`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.AddCommand(
		serve.NewCmd(),
		gc.NewCmd(),
		manifests.NewCmd(),
		config.NewCmd(),
		version.NewCmd(),
	)
	return cmd
}
