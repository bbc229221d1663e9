package gc

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/operator-framework/omps/pkg/config"
	"github.com/operator-framework/omps/pkg/publish"
	"github.com/operator-framework/omps/pkg/quay"
)

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc-releases",
		Short: "delete old releases of an organization",
		Long:  `keep the newest releases in every repository of an organization and delete the older ones`,
		Args:  cobra.NoArgs,
		RunE:  gcFunc,
	}

	cmd.Flags().StringP("config", "c", os.Getenv(config.EnvConfigFile), "path to the configuration file")
	cmd.Flags().StringP("organization", "o", "", "organization to clean up")
	cmd.Flags().String("token-path", "", "path to a file holding the registry token")
	cmd.Flags().IntP("keep", "k", 5, "number of newest releases to keep in every repository")
	cmd.Flags().Bool("dry-run", false, "only report what would be deleted")
	if err := cmd.MarkFlagRequired("organization"); err != nil {
		logrus.Fatalf("Failed to mark `organization` flag for `gc-releases` subcommand as required")
	}
	if err := cmd.MarkFlagRequired("token-path"); err != nil {
		logrus.Fatalf("Failed to mark `token-path` flag for `gc-releases` subcommand as required")
	}
	return cmd
}

func gcFunc(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	org, _ := cmd.Flags().GetString("organization")
	tokenPath, _ := cmd.Flags().GetString("token-path")
	keep, _ := cmd.Flags().GetInt("keep")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	token, err := os.ReadFile(tokenPath)
	if err != nil {
		return fmt.Errorf("unable to read token: %v", err)
	}

	logger := logrus.WithField("organization", org)
	registry := quay.NewClient(cfg.QuayURL, &http.Client{Timeout: cfg.RequestTimeout}, logger)
	collector := publish.NewCollector(registry, logger)
	collector.DryRun = dryRun

	deleted, err := collector.Collect(cmd.Context(), strings.TrimSpace(string(token)), org, keep)

	repos := make([]string, 0, len(deleted))
	for repo := range deleted {
		repos = append(repos, repo)
	}
	sort.Strings(repos)
	for _, repo := range repos {
		fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %s\n", org, repo, strings.Join(deleted[repo], " "))
	}
	return err
}
