package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/operator-framework/omps/pkg/metrics"
)

const subjectType = "koji_build"

// Greenwave asks a Greenwave instance whether a build satisfies the policies
// of a decision context.
type Greenwave struct {
	url            string
	productVersion string
	http           *http.Client
}

// NewGreenwave returns a client for the Greenwave API rooted at url, which
// must end with a slash.
func NewGreenwave(url, productVersion string, httpClient *http.Client) *Greenwave {
	return &Greenwave{url: url, productVersion: productVersion, http: httpClient}
}

type decisionRequest struct {
	DecisionContext   string `json:"decision_context"`
	ProductVersion    string `json:"product_version"`
	SubjectIdentifier string `json:"subject_identifier"`
	SubjectType       string `json:"subject_type"`
}

type decisionResponse struct {
	PoliciesSatisfied *bool  `json:"policies_satisfied"`
	Summary           string `json:"summary"`
}

// Decide returns whether nvr satisfies decisionContext.
func (g *Greenwave) Decide(ctx context.Context, nvr, decisionContext string) (Verdict, error) {
	defer metrics.ObserveCall("greenwave", "decision", time.Now())

	body, err := json.Marshal(decisionRequest{
		DecisionContext:   decisionContext,
		ProductVersion:    g.productVersion,
		SubjectIdentifier: nvr,
		SubjectType:       subjectType,
	})
	if err != nil {
		return Verdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"api/v1.0/decision", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.http.Do(req)
	if err != nil {
		return Verdict{}, errors.Wrap(err, "greenwave request failed")
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Verdict{}, errors.Wrap(err, "read greenwave response")
	}
	if res.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("greenwave returned %d: %s", res.StatusCode, bytes.TrimSpace(data))
	}

	var decision decisionResponse
	if err := json.Unmarshal(data, &decision); err != nil {
		return Verdict{}, errors.Wrap(err, "decode greenwave response")
	}
	if decision.PoliciesSatisfied == nil {
		return Verdict{}, fmt.Errorf("greenwave response has no 'policies_satisfied': %s", bytes.TrimSpace(data))
	}
	return Verdict{Satisfied: *decision.PoliciesSatisfied, Summary: decision.Summary}, nil
}

// Ping checks that the Greenwave API answers.
func (g *Greenwave) Ping(ctx context.Context) error {
	defer metrics.ObserveCall("greenwave", "version", time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url+"api/v1.0/version", nil)
	if err != nil {
		return err
	}
	res, err := g.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "greenwave request failed")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("greenwave returned %d", res.StatusCode)
	}
	return nil
}
