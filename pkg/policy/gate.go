// Package policy decides whether a build may be published.
package policy

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/operator-framework/omps/pkg/apierrors"
)

// Decision is the outcome of a gate check.
type Decision string

const (
	Allowed Decision = "allowed"
	Blocked Decision = "blocked"
	Skipped Decision = "skipped"
)

// Verdict is a policy service answer.
type Verdict struct {
	Satisfied bool
	Summary   string
}

// Decider queries a policy service.
type Decider interface {
	Decide(ctx context.Context, nvr, decisionContext string) (Verdict, error)
}

// Gate checks build-system payloads against the policy service.
type Gate struct {
	decider        Decider
	defaultContext string
	logger         logrus.FieldLogger
}

// NewGate returns a gate consulting decider. A nil decider skips every
// check.
func NewGate(decider Decider, defaultContext string, logger logrus.FieldLogger) *Gate {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gate{decider: decider, defaultContext: defaultContext, logger: logger}
}

// Check decides whether the build nvr may be published. An empty nvr means
// the payload did not come from the build system and the check is skipped.
// orgContext overrides the default decision context when set.
//
// A blocked build is reported together with a PolicyGateRejected error. An
// unreachable or malformed service answer fails closed with PolicyGateError.
func (g *Gate) Check(ctx context.Context, nvr, orgContext string) (Decision, error) {
	if g == nil || g.decider == nil || nvr == "" {
		return Skipped, nil
	}

	decisionContext := g.defaultContext
	if orgContext != "" {
		decisionContext = orgContext
	}
	logger := g.logger.WithFields(logrus.Fields{"nvr": nvr, "decision_context": decisionContext})

	verdict, err := g.decider.Decide(ctx, nvr, decisionContext)
	if err != nil {
		logger.WithError(err).Error("policy check failed")
		return Blocked, apierrors.Wrap(apierrors.PolicyGateError, err, "Failed to check policies of %s", nvr)
	}
	if !verdict.Satisfied {
		logger.WithField("summary", verdict.Summary).Info("policies not satisfied")
		return Blocked, apierrors.New(apierrors.PolicyGateRejected,
			"Policies are not satisfied for %s in decision context %s: %s", nvr, decisionContext, verdict.Summary)
	}

	logger.Debug("policies satisfied")
	return Allowed, nil
}
