// Package commands implements the nearbyctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dantte-lp/gonearby/internal/server"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatWatchEvent renders one WatchEvents notification in the requested format.
func formatWatchEvent(event *server.WatchEventsResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatWatchEventJSON(event)
	case formatTable:
		return formatWatchEventTable(event), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatter ---

func formatWatchEventTable(event *server.WatchEventsResponse) string {
	switch {
	case event.EndpointFound != nil:
		e := event.EndpointFound
		return fmt.Sprintf("endpoint_found    endpoint=%s medium=%s info=%q",
			e.EndpointID, e.Medium, string(e.EndpointInfo))
	case event.EndpointLost != nil:
		return fmt.Sprintf("endpoint_lost     endpoint=%s", event.EndpointLost.EndpointID)
	case event.ConnectionInitiated != nil:
		e := event.ConnectionInitiated
		return fmt.Sprintf("connection_initiated  endpoint=%s token=%s info=%q",
			e.EndpointID, e.AuthToken, string(e.EndpointInfo))
	case event.ConnectionAccepted != nil:
		return fmt.Sprintf("connection_accepted   endpoint=%s", event.ConnectionAccepted.EndpointID)
	case event.ConnectionRejected != nil:
		e := event.ConnectionRejected
		return fmt.Sprintf("connection_rejected   endpoint=%s code=%s", e.EndpointID, e.Code)
	case event.ConnectionDisconnected != nil:
		return fmt.Sprintf("connection_disconnected  endpoint=%s", event.ConnectionDisconnected.EndpointID)
	case event.PayloadReceived != nil:
		e := event.PayloadReceived
		return fmt.Sprintf("payload_received  endpoint=%s payload_id=%d", e.EndpointID, e.PayloadID)
	default:
		return valueNA
	}
}

// --- JSON formatter ---

func formatWatchEventJSON(event *server.WatchEventsResponse) (string, error) {
	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal event to JSON: %w", err)
	}

	return string(data), nil
}
