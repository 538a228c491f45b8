package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one device connection bound to a seat.
type Client struct {
	conn    *websocket.Conn
	roomID  string
	seat    int
	writeMu sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
}

func (c *Client) peer() string {
	return fmt.Sprintf("%s/%d", c.roomID, c.seat)
}

func (c *Client) write(message []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// Hub tracks device connections per room and seat.
type Hub struct {
	clients    map[*websocket.Conn]*Client
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

// stop signals the hub goroutine to exit and waits for it to finish
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

var hub = newHub()

// sendToSeat writes to every connection of one seat. A seat may be open
// on more than one device.
func (h *Hub) sendToSeat(roomID string, seat int, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.roomID != roomID || client.seat != seat {
			continue
		}
		LogWSMessage("OUT", client.peer(), string(message))
		if err := client.write(message); err != nil {
			log.Printf("WebSocket write error to %s: %v", client.peer(), err)
		}
	}
}

func (h *Hub) sendEnvelope(roomID string, seat int, env Envelope) {
	message, err := json.Marshal(env)
	if err != nil {
		logError("sendEnvelope: marshal "+env.Type, err)
		return
	}
	h.sendToSeat(roomID, seat, message)
}

// broadcastRoom sends the same public message to every seat of a room.
func (h *Hub) broadcastRoom(roomID string, env Envelope) {
	message, err := json.Marshal(env)
	if err != nil {
		logError("broadcastRoom: marshal "+env.Type, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.roomID != roomID {
			continue
		}
		LogWSMessage("OUT", client.peer(), string(message))
		if err := client.write(message); err != nil {
			log.Printf("WebSocket write error to %s: %v", client.peer(), err)
		}
	}
}

// connectedSeats lists the seats of a room with at least one connection.
func (h *Hub) connectedSeats(roomID string) []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[int]bool)
	var seats []int
	for _, client := range h.clients {
		if client.roomID == roomID && !seen[client.seat] {
			seen[client.seat] = true
			seats = append(seats, client.seat)
		}
	}
	return seats
}

func (h *Hub) run() {
	h.wg.Add(1)
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (%s). Total: %d", client.peer(), total)
			// A (re)connected device always starts from a full snapshot.
			if room, ok := rooms.get(client.roomID); ok {
				room.RequestSnapshot(client.seat)
			}

		case conn := <-h.unregister:
			h.mu.Lock()
			client, ok := h.clients[conn]
			if ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			if ok {
				log.Printf("WebSocket client disconnected (%s). Total: %d", client.peer(), total)
			}
		}
	}
}

func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Capture globals at entry to avoid race conditions in parallel tests
	currentHub := hub

	session, err := getSeatFromSession(r)
	if err != nil {
		DebugLog("handleWebSocket: rejected connection without a valid seat token: %v", err)
		http.Error(w, "Unknown seat token", http.StatusUnauthorized)
		return
	}
	if _, ok := rooms.get(session.RoomID); !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	var upgrader = websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error for %s/%d: %v", session.RoomID, session.Seat, err)
		return
	}

	client := &Client{conn: conn, roomID: session.RoomID, seat: session.Seat}
	currentHub.register <- client

	go func() {
		defer func() {
			currentHub.unregister <- conn
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				break
			}
			handleWSMessage(currentHub, client, message)
		}
	}()
}

// handleWSMessage routes one device frame to the seat's room. The seat
// comes from the connection, whatever the payload says.
func handleWSMessage(h *Hub, client *Client, message []byte) {
	LogWSMessage("IN", client.peer(), string(message))

	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		sendRejection(h, client.roomID, Rejection{Seat: client.seat, Reason: ReasonMalformed, Message: "message is not valid: " + err.Error()})
		return
	}
	room, ok := rooms.get(client.roomID)
	if !ok {
		sendNotice(h, client.roomID, client.seat, "this room is closed")
		return
	}

	switch env.Type {
	case MsgSubmit:
		if env.Submission == nil {
			sendRejection(h, client.roomID, Rejection{Seat: client.seat, Reason: ReasonMalformed, Message: "submit without a submission"})
			return
		}
		room.Submit(client.seat, *env.Submission)
	case MsgAck:
		if env.Ack == nil {
			sendRejection(h, client.roomID, Rejection{Seat: client.seat, Reason: ReasonMalformed, Message: "ack without an acknowledgement"})
			return
		}
		room.Acknowledge(client.seat, *env.Ack)
	case MsgSnapshotRequest:
		room.RequestSnapshot(client.seat)
	default:
		sendRejection(h, client.roomID, Rejection{Seat: client.seat, Reason: ReasonMalformed, Message: fmt.Sprintf("unknown message type %q", env.Type)})
	}
}
