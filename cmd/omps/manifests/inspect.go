package manifests

import (
	"encoding/csv"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/operator-framework/omps/pkg/courier"
	"github.com/operator-framework/omps/pkg/lib/tmp"
	"github.com/operator-framework/omps/pkg/manifests"
)

const defaultMaxUncompressedSize = 20 << 20

func NewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifests",
		Short: "Work with operator manifest bundles",
	}
	cmd.AddCommand(newInspectCmd())
	return cmd
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <directory|archive.zip>",
		Short: "Verify a manifest bundle and summarize it",
		Long: `Verify a manifest bundle the way a push does and print one CSV row:
package, default channel, number of CSVs, CSV versions, layout (flat or nested) and number of files`,
		Args: cobra.ExactArgs(1),
		RunE: inspectFunc,
	}
	cmd.Flags().Int64("max-uncompressed-size", defaultMaxUncompressedSize, "maximum uncompressed size of an archive in bytes")
	return cmd
}

func inspectFunc(cmd *cobra.Command, args []string) error {
	limit, err := cmd.Flags().GetInt64("max-uncompressed-size")
	if err != nil {
		return err
	}
	logger := logrus.WithField("cmd", "inspect")

	info, err := os.Stat(args[0])
	if err != nil {
		return err
	}
	if info.IsDir() {
		return inspect(cmd, args[0], logger)
	}

	return tmp.WithDir("", "omps-inspect-", func(dir string) error {
		ok, err := manifests.IsZip(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s is neither a directory nor a zip archive", args[0])
		}
		e := &manifests.Extractor{MaxUncompressedSize: limit, Logger: logger}
		if err := e.Extract(args[0], dir); err != nil {
			return err
		}
		return inspect(cmd, dir, logger)
	})
}

func inspect(cmd *cobra.Command, dir string, logger logrus.FieldLogger) error {
	b, err := manifests.Load(dir)
	if err != nil {
		return err
	}
	verified, err := courier.Build(b, logger)
	if err != nil {
		return err
	}
	pkg := verified.Package

	var versions []string
	for _, c := range pkg.CSVs {
		versions = append(versions, c.Version)
	}
	sort.Strings(versions)

	format := "flat"
	dirs := map[string]struct{}{}
	for _, f := range b.Files {
		dirs[path.Dir(f)] = struct{}{}
	}
	if len(dirs) > 1 {
		format = "nested"
	}

	defaultChannel := ""
	if pkg.DefaultChannel != nil {
		defaultChannel = pkg.DefaultChannel.Name
	}

	w := csv.NewWriter(cmd.OutOrStdout())
	return w.WriteAll([][]string{{
		pkg.Name,
		defaultChannel,
		strconv.Itoa(len(pkg.CSVs)),
		strings.Join(versions, " "),
		format,
		strconv.Itoa(len(b.Files)),
	}})
}
