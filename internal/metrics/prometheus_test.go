package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCustomMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	InitCustomMetrics(reg)

	GrantsTotal.WithLabelValues("password", "success").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(GrantsTotal.WithLabelValues("password", "success")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// Registering twice only warns.
	InitCustomMetrics(reg)
}
