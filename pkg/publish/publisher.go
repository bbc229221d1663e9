// Package publish pushes manifest bundles to the registry as new releases
// and removes releases from it.
package publish

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/operator-framework/omps/pkg/apierrors"
	"github.com/operator-framework/omps/pkg/config"
	"github.com/operator-framework/omps/pkg/courier"
	"github.com/operator-framework/omps/pkg/lib/tmp"
	"github.com/operator-framework/omps/pkg/manifests"
	"github.com/operator-framework/omps/pkg/metrics"
	"github.com/operator-framework/omps/pkg/policy"
	"github.com/operator-framework/omps/pkg/quay"
	"github.com/operator-framework/omps/pkg/release"
	"github.com/operator-framework/omps/pkg/source"
	"github.com/operator-framework/omps/pkg/transform"
)

// Organizations resolves per-organization settings.
type Organizations interface {
	Organization(name string) config.Organization
}

// PushRequest asks for a payload to be published.
type PushRequest struct {
	Organization string
	// Repository is taken from the bundle's packageName when empty.
	Repository string
	// Version is the requested release, empty to pick one.
	Version string
	Token   string
	Source  source.Source
}

// PushResult describes a published release.
type PushResult struct {
	Organization   string   `json:"organization"`
	Repository     string   `json:"repo"`
	Version        string   `json:"version"`
	ExtractedFiles []string `json:"extracted_files"`
	NVR            string   `json:"nvr,omitempty"`
}

// Publisher runs the push flow.
type Publisher struct {
	registry       quay.Registry
	pusher         *courier.Pusher
	gate           *policy.Gate
	orgs           Organizations
	defaultVersion release.Version
	scratchDir     string
	logger         logrus.FieldLogger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithScratchDir places request scratch directories below dir.
func WithScratchDir(dir string) Option {
	return func(p *Publisher) {
		p.scratchDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher returns a publisher pushing to registry. gate may be nil.
func NewPublisher(registry quay.Registry, gate *policy.Gate, orgs Organizations, defaultVersion release.Version, opts ...Option) *Publisher {
	p := &Publisher{
		registry:       registry,
		gate:           gate,
		orgs:           orgs,
		defaultVersion: defaultVersion,
		logger:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.pusher = courier.NewPusher(registry, p.logger)
	return p
}

// pushFlow carries one push through its steps. Each step may only rely on
// what earlier steps stored.
type pushFlow struct {
	*Publisher
	req    PushRequest
	org    config.Organization
	logger logrus.FieldLogger
	dir    string

	bundle      *manifests.Bundle
	repository  string
	transformer *transform.Transformer
	verified    *courier.Bundle
	version     release.Version
}

// Push publishes the payload of req.
//
// Every check that can fail runs before the registry is written to: the
// version format, the acquisition and extraction, the policy gate, the
// transformation and verification of the bundle and the version resolution.
// The push itself is the only mutation. The scratch directory is removed
// whatever the outcome.
func (p *Publisher) Push(ctx context.Context, req PushRequest) (result *PushResult, err error) {
	f := &pushFlow{
		Publisher: p,
		req:       req,
		org:       p.orgs.Organization(req.Organization),
		logger: p.logger.WithFields(logrus.Fields{
			"organization": req.Organization,
			"source":       req.Source.Kind(),
		}),
	}
	defer func() {
		metrics.EmitPush(req.Organization, req.Source.Kind(), err)
	}()

	err = tmp.WithDir(p.scratchDir, "omps-push-", func(dir string) error {
		f.dir = dir
		for _, step := range []func(context.Context) error{
			f.checkVersionFormat,
			f.acquire,
			f.checkPolicy,
			f.rewrite,
			f.verify,
			f.resolveVersion,
			f.push,
			f.publish,
		} {
			if err := step(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		f.logger.WithError(err).Warn("push failed")
		return nil, err
	}

	result = &PushResult{
		Organization:   req.Organization,
		Repository:     f.repository,
		Version:        f.version.String(),
		ExtractedFiles: f.bundle.Files,
		NVR:            req.Source.BuildID(),
	}
	if result.ExtractedFiles == nil {
		result.ExtractedFiles = []string{}
	}
	return result, nil
}

func (f *pushFlow) checkVersionFormat(context.Context) error {
	if f.req.Version == "" {
		return nil
	}
	_, err := release.Parse(f.req.Version)
	return versionError(err)
}

func (f *pushFlow) acquire(ctx context.Context) error {
	b, err := f.req.Source.Acquire(ctx, f.dir)
	if err != nil {
		return err
	}
	f.bundle = b
	return nil
}

func (f *pushFlow) checkPolicy(ctx context.Context) error {
	decision, err := f.gate.Check(ctx, f.req.Source.BuildID(), f.org.GreenwaveContext)
	f.logger.WithField("decision", decision).Debug("policy gate")
	return err
}

func (f *pushFlow) rewrite(context.Context) error {
	t, err := transform.New(f.org.ReplaceRegistry, f.org.PackageNameSuffix, f.logger)
	if err != nil {
		return err
	}
	f.transformer = t

	name := f.req.Repository
	if name == "" {
		name = f.bundle.PackageName()
	}
	f.repository = t.Repository(name)
	f.logger = f.logger.WithField("repo", f.repository)

	out, err := t.Apply(f.bundle, filepath.Join(f.dir, "transformed"))
	if err != nil {
		return err
	}
	// extracted_files reports what was received, not the rewritten copy.
	out.Files = f.bundle.Files
	f.bundle = out
	return nil
}

func (f *pushFlow) verify(context.Context) error {
	verified, err := f.pusher.Verify(f.bundle)
	if err != nil {
		return err
	}
	f.verified = verified
	return nil
}

func (f *pushFlow) resolveVersion(ctx context.Context) error {
	raw, err := f.registry.ListReleases(ctx, f.req.Token, f.req.Organization, f.repository)
	if err != nil && !apierrors.IsKind(err, apierrors.PackageNotFound) {
		return err
	}
	existing, ignored := release.ParseReleases(raw)
	if len(ignored) > 0 {
		f.logger.WithField("releases", ignored).Debug("ignoring releases not in <int>.<int>.<int> form")
	}

	v, err := release.Resolve(existing, f.req.Version, f.defaultVersion)
	if err != nil {
		return versionError(err)
	}
	f.version = v
	f.logger = f.logger.WithField("version", v.String())
	return nil
}

func (f *pushFlow) push(ctx context.Context) error {
	return f.pusher.Push(ctx, f.req.Token, f.req.Organization, f.repository, f.version.String(), f.verified)
}

// publish makes the repository public for public organizations. Without an
// OAuth token only an error is logged.
func (f *pushFlow) publish(ctx context.Context) error {
	if !f.org.Public {
		return nil
	}
	if f.org.OAuthToken == "" {
		f.logger.Error("organization is public but has no oauth_token, repository left private")
		return nil
	}
	if err := f.registry.PublishRepository(ctx, f.org.OAuthToken, f.req.Organization, f.repository); err != nil {
		return apierrors.Wrap(apierrors.RegistryPushError, err, "Release %s was pushed but the repository could not be made public", f.version)
	}
	return nil
}

func versionError(err error) error {
	var fe release.FormatError
	var de release.DuplicateVersionError
	var oe release.OverflowError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &fe):
		return apierrors.Wrap(apierrors.InvalidVersionFormat, err, "Invalid version")
	case errors.As(err, &de):
		return apierrors.Wrap(apierrors.DuplicateVersion, err, "Cannot publish release")
	case errors.As(err, &oe):
		return apierrors.Wrap(apierrors.DuplicateVersion, err, "Cannot pick a release version")
	}
	return err
}
