package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	purchaseInitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_init_total",
			Help: "Purchase sessions initiated, by resulting next action.",
		},
		[]string{"next_action"},
	)
	purchaseProcessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_process_total",
			Help: "Process requests by resulting session state.",
		},
		[]string{"state"},
	)
	purchaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "purchase_operation_duration_seconds",
			Help:    "Duration of purchase operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func GetPurchaseInitTotal() *prometheus.CounterVec    { return purchaseInitTotal }
func GetPurchaseProcessTotal() *prometheus.CounterVec { return purchaseProcessTotal }
func GetPurchaseDuration() *prometheus.HistogramVec   { return purchaseDuration }
