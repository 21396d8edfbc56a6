package api

import (
	"encoding/json"

	"github.com/sena-run/core/pkg/events"
)

// subscribeMessage is the only inbound control message a WS client sends:
// {"action": "subscribe", "channels": ["processing", "memory"]}.
type subscribeMessage struct {
	Action   string        `json:"action"`
	Channels []events.Kind `json:"channels"`
}

// parseSubscribeMessage returns the requested channel set, or nil if msg
// isn't a well-formed subscribe request.
func parseSubscribeMessage(msg []byte) []events.Kind {
	var sub subscribeMessage
	if err := json.Unmarshal(msg, &sub); err != nil {
		return nil
	}
	if sub.Action != "subscribe" || len(sub.Channels) == 0 {
		return nil
	}
	return sub.Channels
}
