package threeds

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var threeDStepsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "purchase_threed_steps_total",
		Help: "3-D Secure handler calls by step and resulting session state.",
	},
	[]string{"step", "state"},
)

func GetThreeDStepsTotal() *prometheus.CounterVec { return threeDStepsTotal }
