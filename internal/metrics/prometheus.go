package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	GrantsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_grants_total",
		Help: "Total number of token grants by grant type and outcome.",
	}, []string{"grant_type", "outcome"})

	TokensIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_tokens_issued_total",
		Help: "Total number of access tokens issued, by whether a refresh session was created.",
	}, []string{"with_refresh"})

	RefreshRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_rotations_total",
		Help: "Total number of rotated refresh sessions.",
	})

	SessionsRevokedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_sessions_revoked_total",
		Help: "Total number of revoked sessions by kind.",
	}, []string{"kind"})

	BindTicketsIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_bind_tickets_issued_total",
		Help: "Total number of bind tickets issued after an email collision.",
	})

	AccountsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_accounts_created_total",
		Help: "Total number of accounts created by source.",
	}, []string{"source"})

	ProviderExchangeRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_provider_exchange_retries_total",
		Help: "Total number of retried provider code exchanges.",
	}, []string{"provider"})

	ProviderExchangeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_provider_exchange_failures_total",
		Help: "Total number of failed provider code exchanges by error kind.",
	}, []string{"provider", "kind"})

	TokenCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_cache_lookups_total",
		Help: "Introspection cache lookups by result.",
	}, []string{"result"})
)

// InitCustomMetrics registers the metrics with reg.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	collectors := map[string]prometheus.Collector{
		"GrantsTotal":              GrantsTotal,
		"TokensIssuedTotal":        TokensIssuedTotal,
		"RefreshRotationsTotal":    RefreshRotationsTotal,
		"SessionsRevokedTotal":     SessionsRevokedTotal,
		"BindTicketsIssuedTotal":   BindTicketsIssuedTotal,
		"AccountsCreatedTotal":     AccountsCreatedTotal,
		"ProviderExchangeRetries":  ProviderExchangeRetries,
		"ProviderExchangeFailures": ProviderExchangeFailures,
		"TokenCacheLookups":        TokenCacheLookups,
	}
	for name, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msgf("Failed to register %s metric", name)
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
