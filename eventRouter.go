package main

import (
	"log"

	resourcecache "github.com/maxsupermanhd/TileSync/resourceCache"
	"github.com/maxsupermanhd/TileSync/scheduler"
)

type runEvent struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
}

// runEventRouter fans run events out to websocket clients.
type runEventRouter struct {
	connect    chan chan runEvent
	disconnect chan chan runEvent
	events     chan runEvent
}

var (
	globalEventRouter = newRunEventRouter()
)

func newRunEventRouter() *runEventRouter {
	return &runEventRouter{
		connect:    make(chan chan runEvent, 16),
		disconnect: make(chan chan runEvent, 16),
		events:     make(chan runEvent, 256),
	}
}

func (router *runEventRouter) Run(exitchan <-chan struct{}) {
	clients := map[chan runEvent]bool{}
	for {
		select {
		case <-exitchan:
			for c := range clients {
				close(c)
			}
			return
		case c := <-router.connect:
			clients[c] = true
		case c := <-router.disconnect:
			if clients[c] {
				delete(clients, c)
				close(c)
			}
		case e := <-router.events:
			for c := range clients {
				select {
				case c <- e:
				default:
					log.Printf("Event %v dropped for slow client", e.Action)
				}
			}
		}
	}
}

func (router *runEventRouter) Connect() chan runEvent {
	c := make(chan runEvent, 256)
	router.connect <- c
	return c
}

func (router *runEventRouter) Disconnect(c chan runEvent) {
	router.disconnect <- c
}

// Broadcast never blocks the run, events are dropped when nobody keeps up.
func (router *runEventRouter) Broadcast(e runEvent) {
	select {
	case router.events <- e:
	default:
	}
}

type cacheEventData struct {
	X          int    `json:"x"`
	Z          int    `json:"z"`
	LoadID     uint64 `json:"loadid"`
	Generation int    `json:"generation"`
}

// pumpRunEvents forwards cache and chunk events into the router.
func pumpRunEvents(router *runEventRouter, cacheEvents <-chan resourcecache.Event, chunkEvents <-chan scheduler.ChunkStatus) func(<-chan struct{}) {
	return func(exitchan <-chan struct{}) {
		for {
			select {
			case <-exitchan:
				return
			case e := <-cacheEvents:
				router.Broadcast(runEvent{
					Action: "chunk" + e.Kind.String(),
					Data:   cacheEventData{X: e.X, Z: e.Z, LoadID: e.LoadID, Generation: e.Generation},
				})
			case s := <-chunkEvents:
				router.Broadcast(runEvent{Action: "chunkStatus", Data: s})
			}
		}
	}
}
