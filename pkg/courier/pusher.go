package courier

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/operator-framework/omps/pkg/apierrors"
	"github.com/operator-framework/omps/pkg/manifests"
	"github.com/operator-framework/omps/pkg/quay"
)

// Pusher builds, verifies and uploads manifest bundles.
type Pusher struct {
	registry quay.Registry
	logger   logrus.FieldLogger
}

// NewPusher returns a pusher uploading to registry.
func NewPusher(registry quay.Registry, logger logrus.FieldLogger) *Pusher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pusher{registry: registry, logger: logger}
}

// Verify builds the registry bundle from b without pushing it.
func (p *Pusher) Verify(b *manifests.Bundle) (*Bundle, error) {
	return Build(b, p.logger)
}

// Push uploads a verified bundle as org/repo release version.
func (p *Pusher) Push(ctx context.Context, token, org, repo, version string, bundle *Bundle) error {
	blob, err := bundle.Archive()
	if err != nil {
		return apierrors.Wrap(apierrors.RegistryPushError, err, "Failed to push manifest")
	}
	p.logger.WithFields(logrus.Fields{
		"organization": org,
		"repo":         repo,
		"version":      version,
		"size":         len(blob),
	}).Debug("pushing bundle")
	return p.registry.PushRelease(ctx, token, org, repo, version, blob)
}
