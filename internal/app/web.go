// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/indoor_positioning/internal/kalman"
)

const (
	wsWriteWait  = 2 * time.Second
	wsClientSlot = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// Hub keeps the latest estimate for the JSON API and streams every estimate
// to websocket clients. Slow clients miss estimates instead of blocking.
type Hub struct {
	mu       sync.RWMutex
	last     []byte
	haveLast bool
	clients  map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

// OnEstimate implements fusion.EstimateListener.
func (h *Hub) OnEstimate(e kalman.Estimate) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Printf("web: json marshal error: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = payload
	h.haveLast = true
	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register() chan []byte {
	ch := make(chan []byte, wsClientSlot)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unregister(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// Handler serves /api/estimate, /ws and static files from ./web.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/estimate", h.serveLatest)
	mux.HandleFunc("/ws", h.serveWS)
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

func (h *Hub) serveLatest(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	payload, ok := h.last, h.haveLast
	h.mu.RUnlock()

	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(payload); err != nil {
		log.Printf("web: write error: %v", err)
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ch := h.register()
	defer h.unregister(ch)
	log.Printf("web: websocket client %s connected", r.RemoteAddr)

	// Reader goroutine only detects the close; clients send nothing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			log.Printf("web: websocket client %s disconnected", r.RemoteAddr)
			return
		case payload := <-ch:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("web: websocket write error: %v", err)
				return
			}
		}
	}
}
