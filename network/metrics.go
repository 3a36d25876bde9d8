package network

import "avatarsync.dev/client/metrics"

const metricsComponent = "network"

// ParticipantsGauge tracks the number of participants owned by the hub.
var ParticipantsGauge = metrics.MustRegisterGauge(
	metricsComponent,
	"participants",
	"Number of remote players currently shown.",
)

// EventCounterTotal counts events received from the server.
// [name].
var EventCounterTotal = metrics.MustRegisterCounterVec(
	metricsComponent,
	"events_total",
	"Number of events received from the server by name.",
	"name",
)
