package transaction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var billerAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "purchase_biller_attempts_total",
		Help: "Biller charge attempts by biller, resulting status and item kind.",
	},
	[]string{"biller", "status", "item_kind"},
)

var cascadeAdvancesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "purchase_cascade_advances_total",
		Help: "Cascade advances away from a biller.",
	},
	[]string{"biller"},
)

func GetBillerAttemptsTotal() *prometheus.CounterVec  { return billerAttemptsTotal }
func GetCascadeAdvancesTotal() *prometheus.CounterVec { return cascadeAdvancesTotal }
