package model

import (
	"github.com/LeonardoBeccarini/smartmeter_sim/internal/model/messages"
)

// Aliases of the wire types shared by the services.

type (
	Reading = messages.Reading
	// LogEntry is a Reading once it has been accepted by the collector.
	LogEntry = messages.Reading
)
