package controller

import (
	"log"

	"github.com/gofiber/websocket/v2"

	"inboxpilot/utils"
)

// HandleInboxStreamWS streams ingestion events to a connected client. One
// subscription per connection; the hub drops events for slow readers rather
// than stalling ingestion.
func HandleInboxStreamWS(hub *utils.EventHub, logger *log.Logger) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		events := hub.Subscribe()
		defer hub.Unsubscribe(events)
		defer conn.Close()

		for event := range events {
			if err := conn.WriteJSON(event); err != nil {
				logger.Printf("Inbox stream write failed, closing: %v", err)
				return
			}
		}
	}
}
