package publish

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/operator-framework/omps/pkg/quay"
	"github.com/operator-framework/omps/pkg/release"
)

// Collector prunes old releases.
type Collector struct {
	registry quay.Registry
	logger   logrus.FieldLogger
	// DryRun reports what would be deleted without deleting it.
	DryRun bool
}

// NewCollector returns a collector for registry.
func NewCollector(registry quay.Registry, logger logrus.FieldLogger) *Collector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Collector{registry: registry, logger: logger}
}

// Collect keeps the keep newest valid releases in every repository of org
// and deletes the older ones. Releases not in <int>.<int>.<int> form are
// left alone. It returns the deleted releases per repository and continues
// past failing repositories.
func (c *Collector) Collect(ctx context.Context, token, org string, keep int) (map[string][]string, error) {
	if keep < 1 {
		return nil, fmt.Errorf("at least one release must be kept, got %d", keep)
	}

	repos, err := c.registry.ListRepositories(ctx, token, org)
	if err != nil {
		return nil, err
	}

	var errs *multierror.Error
	deleted := map[string][]string{}
	for _, repo := range repos {
		logger := c.logger.WithFields(logrus.Fields{"organization": org, "repo": repo})

		raw, err := c.registry.ListReleases(ctx, token, org, repo)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		valid, _ := release.ParseReleases(raw)
		sorted := valid.SortDescending()
		if len(sorted) <= keep {
			continue
		}

		for _, v := range sorted[keep:] {
			if c.DryRun {
				logger.WithField("version", v.String()).Info("would delete release")
				deleted[repo] = append(deleted[repo], v.String())
				continue
			}
			if err := c.registry.DeleteRelease(ctx, token, org, repo, v.String()); err != nil {
				errs = multierror.Append(errs, err)
				break
			}
			logger.WithField("version", v.String()).Info("deleted release")
			deleted[repo] = append(deleted[repo], v.String())
		}
	}
	return deleted, errs.ErrorOrNil()
}
