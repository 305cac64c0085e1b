package tokens

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	issuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcart_tokens_issued_total",
		Help: "Tokens handed out by the issuer, split by declared type and whether an existing live token was reused.",
	}, []string{"type", "outcome"})

	validationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcart_token_validations_total",
		Help: "Validation attempts by outcome.",
	}, []string{"outcome"})

	revokedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcart_tokens_revoked_total",
		Help: "Tokens force-expired before their natural expiry.",
	})

	cleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcart_tokens_cleaned_total",
		Help: "Expired records removed by cleanup runs.",
	})
)
