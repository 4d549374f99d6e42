// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/ignition/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

const (
	// wsSendBuffer bounds per-client queued events. A client that falls
	// this far behind is disconnected rather than blocking the emitter.
	wsSendBuffer = 256

	wsWriteTimeout = 10 * time.Second
)

// HandleEventStream handles GET /v1/ignition/events/stream.
//
// Description:
//
//	Upgrades the connection to a WebSocket and streams lifecycle events as
//	JSON, one event per message. Buffered history is replayed first so late
//	subscribers see the full run. The read side is drained only to detect
//	disconnects; client messages are ignored.
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleEventStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	emitter := h.sched.Emitter()
	send := make(chan events.Event, wsSendBuffer)
	sub := emitter.Subscribe(func(e *events.Event) {
		select {
		case send <- *e:
		default:
			// Slow client; drop rather than stall the emitter.
		}
	})
	defer emitter.Unsubscribe(sub)

	h.logger.Info("Event stream client connected")

	// Replay history before live events.
	for _, e := range emitter.GetBuffer() {
		if err := writeEvent(ws, e); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			h.logger.Info("Event stream client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		case e := <-send:
			if err := writeEvent(ws, e); err != nil {
				h.logger.Info("Event stream write failed",
					slog.String("error", err.Error()))
				return
			}
		}
	}
}

func writeEvent(ws *websocket.Conn, e events.Event) error {
	if err := ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return ws.WriteJSON(e)
}
