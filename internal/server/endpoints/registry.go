// Package endpoints defines the HTTP surface of the dbsketch server. Each
// endpoint doubles as a CLI command against a running server.
package endpoints

import (
	"github.com/dbsketch/dbsketch/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},

		// Extraction endpoint
		&GenerateSchemaEndpoint{},
	}
}
