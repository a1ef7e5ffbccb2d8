package ahrsweb

import (
	"log"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// Room relays messages to every connected websocket client. Messages come
// from Broadcast or from any client.
type Room struct {
	// forward is a channel that holds incoming messages
	// that should be forwarded to the other clients.
	forward chan []byte
	// join is a channel for clients wishing to join the room.
	join chan *client
	// leave is a channel for clients wishing to leave the room.
	leave chan *client
	// clients holds all current clients in this room.
	clients map[*client]bool
	// quit stops Run.
	quit chan struct{}
	n    atomic.Int32
}

// NewRoom makes a new room that is ready to go.
func NewRoom() *Room {
	return &Room{
		forward: make(chan []byte, messageBufferSize),
		join:    make(chan *client),
		leave:   make(chan *client),
		clients: make(map[*client]bool),
		quit:    make(chan struct{}),
	}
}

// Run relays messages until Close is called.
func (r *Room) Run() {
	for {
		select {
		case client := <-r.join:
			r.clients[client] = true
			r.n.Add(1)
			log.Println("AHRSWeb: New client joined")
		case client := <-r.leave:
			if r.clients[client] {
				delete(r.clients, client)
				r.n.Add(-1)
				close(client.send)
				log.Println("AHRSWeb: Client left")
			}
		case msg := <-r.forward:
			for client := range r.clients {
				select {
				case client.send <- msg:
				default:
					// client backed up; drop
				}
			}
		case <-r.quit:
			for client := range r.clients {
				delete(r.clients, client)
				close(client.send)
			}
			r.n.Store(0)
			return
		}
	}
}

// Close stops Run and disconnects all clients.
func (r *Room) Close() {
	close(r.quit)
}

// Broadcast queues msg for all clients. It never blocks: if the room is
// backed up the message is dropped and false returned.
func (r *Room) Broadcast(msg []byte) bool {
	select {
	case r.forward <- msg:
		return true
	default:
		return false
	}
}

// Clients returns the number of connected clients.
func (r *Room) Clients() int {
	return int(r.n.Load())
}

const (
	socketBufferSize  = 1024
	messageBufferSize = 10
)

var upgrader = &websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize}

func (r *Room) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Println("AHRSWeb: ServeHTTP:", err)
		return
	}
	client := &client{
		socket: socket,
		send:   make(chan []byte, messageBufferSize),
		room:   r,
	}
	select {
	case r.join <- client:
	case <-r.quit:
		socket.Close()
		return
	}
	defer func() {
		select {
		case r.leave <- client:
		case <-r.quit:
		}
	}()
	go client.write()
	client.read()
}
