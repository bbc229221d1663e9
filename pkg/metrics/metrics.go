package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OrganizationLabel = "organization"
	SourceLabel       = "source"
	ServiceLabel      = "service"
	OperationLabel    = "operation"
	Outcome           = "outcome"
	Succeeded         = "succeeded"
	Failed            = "failed"

	// OtherOrganization labels every organization missing from the
	// configuration.
	OtherOrganization = "other"
)

var (
	orgsMu sync.RWMutex
	orgs   = map[string]struct{}{}
)

// SetOrganizations sets the organizations that get their own label value.
func SetOrganizations(names []string) {
	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[n] = struct{}{}
	}
	orgsMu.Lock()
	defer orgsMu.Unlock()
	orgs = known
}

// organizationLabel bounds the organization label to configured names.
func organizationLabel(name string) string {
	orgsMu.RLock()
	defer orgsMu.RUnlock()
	if _, ok := orgs[name]; ok {
		return name
	}
	return OtherOrganization
}

var (
	pushCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omps_push_total",
			Help: "Number of push requests by organization, payload source and outcome",
		},
		[]string{OrganizationLabel, SourceLabel, Outcome},
	)

	deleteCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omps_delete_total",
			Help: "Number of delete requests by organization and outcome",
		},
		[]string{OrganizationLabel, Outcome},
	)

	releasesDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omps_releases_deleted_total",
			Help: "Number of releases removed from the registry",
		},
		[]string{OrganizationLabel},
	)

	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omps_external_call_duration_seconds",
			Help:    "Latency of calls to the registry, build system and policy service",
			Buckets: prometheus.DefBuckets,
		},
		[]string{ServiceLabel, OperationLabel},
	)
)

// Register adds every collector to r.
func Register(r prometheus.Registerer) {
	r.MustRegister(pushCount)
	r.MustRegister(deleteCount)
	r.MustRegister(releasesDeleted)
	r.MustRegister(callDuration)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return Failed
	}
	return Succeeded
}

// EmitPush records the outcome of a push.
func EmitPush(organization, source string, err error) {
	pushCount.WithLabelValues(organizationLabel(organization), source, outcome(err)).Inc()
}

// EmitDelete records the outcome of a delete and the number of releases it
// removed.
func EmitDelete(organization string, deleted int, err error) {
	org := organizationLabel(organization)
	deleteCount.WithLabelValues(org, outcome(err)).Inc()
	releasesDeleted.WithLabelValues(org).Add(float64(deleted))
}

// ObserveCall records the time since start for an external call. Meant to
// be deferred.
func ObserveCall(service, operation string, start time.Time) {
	callDuration.WithLabelValues(service, operation).Observe(time.Since(start).Seconds())
}
