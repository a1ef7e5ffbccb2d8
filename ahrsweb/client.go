package ahrsweb

import (
	"log"

	"github.com/gorilla/websocket"
)

// client is a single websocket connection to a Room.
type client struct {
	// socket is the web socket for this client.
	socket *websocket.Conn
	// send is a channel on which messages are sent.
	send chan []byte
	// room is the room this client is in.
	room *Room
}

// read forwards everything the client sends to the room, until the
// connection fails.
func (c *client) read() {
	defer c.socket.Close()
	for {
		_, msg, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Println("AHRSWeb: read:", err)
			}
			return
		}
		c.room.Broadcast(msg)
	}
}

// write sends the room's messages to the client until send is closed.
func (c *client) write() {
	defer c.socket.Close()
	for msg := range c.send {
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
