package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsEventsHandler streams run events to the client until it disconnects.
func wsEventsHandler(router *runEventRouter) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: 2 * time.Second,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			log.Printf("Websocket error: %v %v", status, reason.Error())
		},
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		EnableCompression: true,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Print("Websocket upgrade error:", err)
			return
		}
		defer c.Close()
		errChan := make(chan error, 1)
		go func() {
			for {
				_, _, err := c.ReadMessage()
				if err != nil {
					errChan <- err
					return
				}
			}
		}()
		msgc := router.Connect()
		defer router.Disconnect(msgc)
		for {
			select {
			case m, ok := <-msgc:
				if !ok {
					c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "run finished"), time.Now().Add(time.Second))
					return
				}
				b, err := json.Marshal(m)
				if err != nil {
					log.Printf("Failed to marshal event: %v", err)
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			case <-errChan:
				return
			}
		}
	}
}
