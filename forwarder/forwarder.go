// Package forwarder sends live records off the device. Forwarders never
// block the caller: records wait in a small queue that loses its oldest
// entry when full.
package forwarder

import (
	"github.com/jd3nn1s/dashlog/queue"
	"github.com/jd3nn1s/dashlog/record"
)

// outbox hands records from Forward to the sending goroutine.
type outbox struct {
	q *queue.Queue[record.Record]
}

func newOutbox(size int) outbox {
	return outbox{q: queue.New[record.Record](size)}
}

func (o outbox) push(rec record.Record) {
	o.q.PushDropOldest(rec)
}

// Dropped counts records lost because the sender fell behind.
func (o outbox) Dropped() uint64 {
	return o.q.Dropped()
}
