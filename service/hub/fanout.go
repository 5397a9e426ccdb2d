package hub

import (
	clipmodel "ClipSync/module/clip/model"
	"ClipSync/tools/safe"
	"hash/fnv"
	"sync"
)

type fanoutJob struct {
	sess *Session
	item *clipmodel.ClipItem
}

// fanout spreads per-publish enqueue work over a fixed worker pool. Jobs for
// the same device always land on the same worker, so one session's events
// are enqueued in publish order.
type fanout struct {
	hub   *Hub
	lanes []chan fanoutJob

	stopOnce sync.Once
	done     chan struct{}
}

func newFanout(h *Hub, workers, queue int) *fanout {
	f := &fanout{
		hub:   h,
		lanes: make([]chan fanoutJob, workers),
		done:  make(chan struct{}),
	}
	for i := range f.lanes {
		lane := make(chan fanoutJob, queue/workers+1)
		f.lanes[i] = lane
		safe.SafeGo(func() { f.worker(lane) })
	}
	return f
}

// submit queues the delivery on the session's lane. A saturated lane drops
// the session, same policy as a full send queue: delivering inline would
// jump ahead of jobs still parked in the lane and break per-session order.
// The device recovers through reconnect + catch-up.
func (f *fanout) submit(s *Session, item *clipmodel.ClipItem) {
	lane := f.lanes[laneIndex(s.DeviceID, len(f.lanes))]
	select {
	case lane <- fanoutJob{sess: s, item: item}:
	default:
		f.hub.Disconnect(s, "fanout lane full")
	}
}

func laneIndex(deviceID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(n))
}

func (f *fanout) worker(lane chan fanoutJob) {
	for {
		select {
		case <-f.done:
			return
		case j := <-lane:
			f.deliver(j.sess, j.item)
		}
	}
}

func (f *fanout) deliver(s *Session, item *clipmodel.ClipItem) {
	if !s.enqueue(item) {
		f.hub.Disconnect(s, "send queue full")
	}
}

func (f *fanout) stop() {
	f.stopOnce.Do(func() { close(f.done) })
}
