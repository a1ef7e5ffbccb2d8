package ahrsweb

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gareth-cross/kalman-ios/ahrs"
)

// SnapshotSource is anything publishing estimator snapshots, usually an
// *ahrs.Estimator.
type SnapshotSource interface {
	Snapshot() ahrs.Snapshot
}

// Publisher broadcasts a source's snapshots to a Room at a fixed rate.
type Publisher struct {
	src    SnapshotSource
	room   *Room
	period time.Duration
}

// NewPublisher returns a publisher sending rate messages per second.
func NewPublisher(src SnapshotSource, room *Room, rate float64) *Publisher {
	if !(rate > 0) {
		rate = 10
	}
	return &Publisher{src: src, room: room, period: time.Duration(float64(time.Second) / rate)}
}

// Run publishes until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	tick := time.NewTicker(p.period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			p.publish()
		}
	}
}

func (p *Publisher) publish() {
	if p.room.Clients() == 0 {
		return
	}
	snap := p.src.Snapshot()
	msg, err := json.Marshal(NewAHRSData(&snap))
	if err != nil {
		log.Println("AHRSWeb: Error marshalling json data:", err)
		return
	}
	p.room.Broadcast(msg)
}
