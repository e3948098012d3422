package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commandsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "purchase_commands_total",
		Help: "Purchase commands by type and outcome.",
	},
	[]string{"command", "outcome"},
)

func GetCommandsTotal() *prometheus.CounterVec { return commandsTotal }
