package ahrsweb

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"

	"github.com/gareth-cross/kalman-ios/ahrs"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// KalmanListener pushes snapshots to a remote AHRS web server, which relays
// them to its browsers.
type KalmanListener struct {
	u url.URL
	c *websocket.Conn
}

// NewKalmanListener connects to the AHRS web server at host, e.g. "localhost:8000".
func NewKalmanListener(host string) (kl *KalmanListener, err error) {
	kl = &KalmanListener{u: url.URL{Scheme: "ws", Host: host, Path: "/ahrsweb"}}
	if err = kl.connect(); err != nil {
		return nil, err
	}
	return kl, nil
}

// DefaultHost is the local AHRS web server on the default port.
func DefaultHost() string {
	return fmt.Sprintf("localhost:%d", Port)
}

func (kl *KalmanListener) connect() error {
	c, _, err := websocket.DefaultDialer.Dial(kl.u.String(), nil)
	if err != nil {
		return errors.Wrapf(err, "AHRSWeb: dialing %s", kl.u.String())
	}
	kl.c = c
	return nil
}

// Send writes one snapshot. On a write failure the connection is dropped and
// the snapshot with it; the next Send dials again.
func (kl *KalmanListener) Send(s *ahrs.Snapshot) error {
	msg, err := json.Marshal(NewAHRSData(s))
	if err != nil {
		log.Println("AHRSWeb: Error marshalling json data:", err)
		return errors.Wrap(err, "AHRSWeb: marshalling")
	}
	if kl.c == nil {
		if err = kl.connect(); err != nil {
			return err
		}
	}
	if err = kl.c.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Println("AHRSWeb: Error writing to websocket:", err)
		kl.c.Close()
		kl.c = nil
		return errors.Wrap(err, "AHRSWeb: writing")
	}
	return nil
}

// Connected reports whether the listener currently holds a connection.
func (kl *KalmanListener) Connected() bool {
	return kl.c != nil
}

// Close closes the connection cleanly.
func (kl *KalmanListener) Close() error {
	if kl.c == nil {
		return nil
	}
	defer func() {
		kl.c.Close()
		kl.c = nil
	}()
	err := kl.c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return errors.Wrap(err, "AHRSWeb: closing websocket")
}
