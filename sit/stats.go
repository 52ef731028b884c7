package sit

import (
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"

	"github.com/golang/glog"
)

const publishLatencyWindow = 256

// publishStats summarizes the frequent fan-out events as periodic
// statistics instead of logging each data point.
type publishStats struct {
	mutex sync.Mutex

	publishLatencyMs *movingaverage.MovingAverage
	published        int64
	sent             int64
	dropped          int64
}

func newPublishStats() *publishStats {
	return &publishStats{
		publishLatencyMs: movingaverage.New(publishLatencyWindow),
	}
}

func (self *publishStats) addPublish(latency time.Duration) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.published += 1
	self.publishLatencyMs.Add(float64(latency.Microseconds()) / 1000.0)
}

func (self *publishStats) addSend() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.sent += 1
}

func (self *publishStats) addDropped() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.dropped += 1
}

// log emits the window and resets the counters
func (self *publishStats) log(sessionCount int) {
	self.mutex.Lock()
	published := self.published
	sent := self.sent
	dropped := self.dropped
	latencyMs := self.publishLatencyMs.Avg()
	self.published = 0
	self.sent = 0
	self.dropped = 0
	self.mutex.Unlock()

	glog.V(1).Infof(
		"[fo]sessions=%d published=%d sent=%d dropped=%d latency=%.3fms\n",
		sessionCount, published, sent, dropped, latencyMs,
	)
}
