package publish

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/operator-framework/omps/pkg/apierrors"
	"github.com/operator-framework/omps/pkg/metrics"
	"github.com/operator-framework/omps/pkg/quay"
	"github.com/operator-framework/omps/pkg/release"
)

// DeleteRequest asks for one release, or every release, to be removed.
type DeleteRequest struct {
	Organization string
	Repository   string
	// Version selects a single release. Empty deletes all releases.
	Version string
	Token   string
}

// DeleteResult lists the removed releases.
type DeleteResult struct {
	Organization string   `json:"organization"`
	Repository   string   `json:"repo"`
	Deleted      []string `json:"deleted"`
}

// Remover deletes releases.
type Remover struct {
	registry quay.Registry
	logger   logrus.FieldLogger
}

// NewRemover returns a remover for registry.
func NewRemover(registry quay.Registry, logger logrus.FieldLogger) *Remover {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Remover{registry: registry, logger: logger}
}

// Delete removes the requested release, or all of them.
//
// Deleting all releases removes every raw release the registry reports, one
// at a time. A release that disappeared concurrently is skipped. Any other
// failure stops the loop with a RegistryDeleteError listing what was
// already removed.
func (r *Remover) Delete(ctx context.Context, req DeleteRequest) (result *DeleteResult, err error) {
	logger := r.logger.WithFields(logrus.Fields{"organization": req.Organization, "repo": req.Repository})
	result = &DeleteResult{Organization: req.Organization, Repository: req.Repository, Deleted: []string{}}
	defer func() {
		metrics.EmitDelete(req.Organization, len(result.Deleted), err)
	}()

	var requested release.Version
	if req.Version != "" {
		if requested, err = release.Parse(req.Version); err != nil {
			return result, versionError(err)
		}
	}

	raw, err := r.registry.ListReleases(ctx, req.Token, req.Organization, req.Repository)
	if err != nil {
		return result, err
	}

	targets := raw
	if req.Version != "" {
		targets = nil
		for _, rel := range raw {
			if v, perr := release.Parse(rel); perr == nil && v.Compare(requested) == 0 {
				targets = append(targets, rel)
			}
		}
		if len(targets) == 0 {
			return result, apierrors.New(apierrors.PackageNotFound,
				"Version %s not found in package %s/%s", req.Version, req.Organization, req.Repository)
		}
	}

	for _, rel := range targets {
		err := r.registry.DeleteRelease(ctx, req.Token, req.Organization, req.Repository, rel)
		switch {
		case err == nil:
			result.Deleted = append(result.Deleted, rel)
		case req.Version == "" && apierrors.IsKind(err, apierrors.PackageNotFound):
			logger.WithField("version", rel).Debug("release already gone")
		case req.Version == "":
			e := apierrors.Wrap(apierrors.RegistryDeleteError, err,
				"Failed to delete release %s of package %s/%s after deleting %v", rel, req.Organization, req.Repository, result.Deleted)
			e.Deleted = append([]string{}, result.Deleted...)
			return result, e
		default:
			return result, err
		}
	}

	logger.WithField("deleted", result.Deleted).Info("releases deleted")
	return result, nil
}
