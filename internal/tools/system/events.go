package system

import (
	"github.com/starkbot/starkbot/internal/events"
	"github.com/starkbot/starkbot/internal/tools"
)

// eventFor builds a broadcaster event scoped to the calling tool's session
// and channel, carrying no extra payload beyond the event type itself.
func eventFor(tc *tools.Context, t events.Type) events.Event {
	e := events.Event{Event: t}
	if tc != nil {
		e.SessionID = tc.SessionID
		e.ChannelID = tc.ChannelID
	}
	return e
}
