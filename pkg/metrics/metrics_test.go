package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit(t *testing.T) {
	SetOrganizations([]string{"org"})
	defer SetOrganizations(nil)

	before := testutil.ToFloat64(pushCount.WithLabelValues("org", "zipfile", Failed))
	EmitPush("org", "zipfile", errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(pushCount.WithLabelValues("org", "zipfile", Failed)))

	deleted := testutil.ToFloat64(releasesDeleted.WithLabelValues("org"))
	EmitDelete("org", 3, nil)
	assert.Equal(t, deleted+3, testutil.ToFloat64(releasesDeleted.WithLabelValues("org")))
}

func TestEmitUnknownOrganization(t *testing.T) {
	SetOrganizations([]string{"org"})
	defer SetOrganizations(nil)

	before := testutil.ToFloat64(pushCount.WithLabelValues(OtherOrganization, "zipfile", Succeeded))
	EmitPush("unconfigured-1", "zipfile", nil)
	EmitPush("unconfigured-2", "zipfile", nil)
	assert.Equal(t, before+2, testutil.ToFloat64(pushCount.WithLabelValues(OtherOrganization, "zipfile", Succeeded)))

	deleted := testutil.ToFloat64(releasesDeleted.WithLabelValues(OtherOrganization))
	EmitDelete("unconfigured-3", 2, nil)
	assert.Equal(t, deleted+2, testutil.ToFloat64(releasesDeleted.WithLabelValues(OtherOrganization)))

	reg := prometheus.NewRegistry()
	Register(reg)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.NotContains(t, rec.Body.String(), "unconfigured")
}

func TestHandler(t *testing.T) {
	SetOrganizations([]string{"org"})
	defer SetOrganizations(nil)

	reg := prometheus.NewRegistry()
	Register(reg)
	ObserveCall("quay", "push", time.Now())
	EmitPush("org", "koji", nil)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `omps_push_total{organization="org",outcome="succeeded",source="koji"}`)
	assert.Contains(t, rec.Body.String(), "omps_external_call_duration_seconds_bucket")
}
