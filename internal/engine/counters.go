package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time read of the Engine's running counters, safe
// to hold onto and pass around after it's returned.
type Snapshot struct {
	Hashrate        float64
	PeakHashrate    float64
	Difficulty      float64
	BestShareBits   uint32
	SharesSubmitted uint64
	SharesAccepted  uint64
	SharesRejected  uint64
	JobsReceived    uint64
	Uptime          time.Duration
}

// counters tracks everything Snapshot reports. Hashrate, difficulty and
// best-bits sit behind one mutex so Snapshot reads them together; best-bits
// is written by every worker after each batch. The share/job tallies are
// monotonic and use atomics instead.
type counters struct {
	mu            sync.Mutex
	hashrate      float64
	peakHashrate  float64
	difficulty    float64
	bestShareBits uint32
	startedAt     time.Time

	sharesSubmitted atomic.Uint64
	sharesAccepted  atomic.Uint64
	sharesRejected  atomic.Uint64
	jobsReceived    atomic.Uint64
}

func (c *counters) reset() {
	c.mu.Lock()
	c.hashrate = 0
	c.peakHashrate = 0
	c.difficulty = 0
	c.bestShareBits = 0
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.sharesSubmitted.Store(0)
	c.sharesAccepted.Store(0)
	c.sharesRejected.Store(0)
	c.jobsReceived.Store(0)
}

func (c *counters) setHashrate(h float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashrate = h
	if h > c.peakHashrate {
		c.peakHashrate = h
	}
}

func (c *counters) setDifficulty(d float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.difficulty = d
}

func (c *counters) currentDifficulty() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.difficulty
}

func (c *counters) setBestShareBits(bits uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bits > c.bestShareBits {
		c.bestShareBits = bits
	}
}

func (c *counters) recordJob() {
	c.jobsReceived.Add(1)
}

// recordSubmit counts a share at the moment it's sent to the pool, before
// any response (or disconnect) is known — this is what lets
// sharesAccepted+sharesRejected <= sharesSubmitted hold with room for an
// outstanding response, rather than submitted and settled always moving
// together.
func (c *counters) recordSubmit() {
	c.sharesSubmitted.Add(1)
}

func (c *counters) recordShareResult(accepted bool) {
	if accepted {
		c.sharesAccepted.Add(1)
	} else {
		c.sharesRejected.Add(1)
	}
}

func (c *counters) snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Hashrate:        c.hashrate,
		PeakHashrate:    c.peakHashrate,
		Difficulty:      c.difficulty,
		BestShareBits:   c.bestShareBits,
		SharesSubmitted: c.sharesSubmitted.Load(),
		SharesAccepted:  c.sharesAccepted.Load(),
		SharesRejected:  c.sharesRejected.Load(),
		JobsReceived:    c.jobsReceived.Load(),
		Uptime:          time.Since(c.startedAt),
	}
}
