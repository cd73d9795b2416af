// Package engine orchestrates a mining session: it owns the Stratum
// client, picks and drives the nonce-search kernel, measures hashrate,
// adapts the pool difficulty, submits shares, and reconnects on failure.
package engine

import (
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/solosha/solominer/internal/kernel"
	"github.com/solosha/solominer/internal/stats"
	"github.com/solosha/solominer/internal/status"
	"github.com/solosha/solominer/internal/stratum"
)

const (
	reconnectBase       = 5 * time.Second
	reconnectJitterSpan = 5 * time.Second
	hashrateSampleEvery = 5 * time.Second
	jobWaitPollInterval = time.Second
)

// Engine runs one mining session end to end. Create with New, configure and
// start with Start, and stop with Stop; an Engine may be started again
// after Stop with a fresh Settings value.
type Engine struct {
	log *logrus.Entry

	settingsMu sync.Mutex
	settings   Settings

	statusMu sync.Mutex
	status   status.Status

	counters counters

	jobMu           sync.RWMutex
	currentJob      *stratum.Job
	extranonce1     []byte
	extranonce2Size int
	jobReady        chan struct{}

	krn      kernel.Kernel
	usingGPU bool

	stratumClient *stratum.Client
	statsSink     stats.Recorder
	sessionID     string

	running          atomic.Bool
	reconnectEnabled atomic.Bool

	stopCh    chan struct{}
	workersWG sync.WaitGroup
}

// New returns an idle Engine. sink may be nil to disable session
// persistence.
func New(sink stats.Recorder) *Engine {
	return &Engine{
		log:      logrus.WithField("component", "engine"),
		status:   status.Idle,
		jobReady: make(chan struct{}),
		statsSink: sink,
	}
}

// Status returns the engine's current lifecycle status.
func (e *Engine) Status() status.Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

// Snapshot returns the current counters.
func (e *Engine) Snapshot() Snapshot {
	return e.counters.snapshot()
}

// SessionID returns the identifier generated for the current (or most
// recent) Start call, for tagging persisted session records.
func (e *Engine) SessionID() string {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	return e.sessionID
}

// earlierThanMining marks stages that must not overwrite Mining once it's been
// reached — a stray reconnect-era callback or keepalive response arriving
// late shouldn't make a miner that is actively Mining look like it
// regressed to an earlier stage.
var earlierThanMining = map[status.Status]bool{
	status.Starting:    true,
	status.Connecting:  true,
	status.Connected:   true,
	status.Subscribing: true,
	status.Subscribed:  true,
	status.Authorizing: true,
	status.Authorized:  true,
}

func (e *Engine) setStatus(s status.Status) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if e.status == status.Mining && earlierThanMining[s] {
		return
	}
	if e.status != s {
		e.log.WithFields(logrus.Fields{"from": e.status, "to": s}).Info("status changed")
	}
	e.status = s
}

// Start validates settings, resets counters, and begins connecting. It is
// idempotent while already running.
func (e *Engine) Start(settings Settings) error {
	if !e.running.CompareAndSwap(false, true) {
		return nil
	}

	if settings.BitcoinAddress == "" {
		e.running.Store(false)
		return ErrAddressRequired
	}
	if settings.ClientID == "" {
		settings.ClientID = "solominer/1.0"
	}

	e.settingsMu.Lock()
	e.settings = settings
	e.sessionID = uuid.NewString()
	e.settingsMu.Unlock()

	e.counters.reset()
	e.counters.setDifficulty(initialSuggestDifficulty)
	e.reconnectEnabled.Store(true)
	e.stopCh = make(chan struct{})

	e.krn, e.usingGPU = selectKernel(settings)
	e.clearCurrentJob()

	e.stratumClient = stratum.NewClient(e, settings.ClientID)

	e.setStatus(status.Starting)
	go e.runConnection(settings)

	return nil
}

// Stop ends the session: stops reconnect attempts, closes the stratum
// connection, waits for worker goroutines to exit, and persists the
// session's totals through the configured stats sink, if any.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.setStatus(status.Stopping)
	e.reconnectEnabled.Store(false)
	close(e.stopCh)
	if e.stratumClient != nil {
		e.stratumClient.Close()
	}
	e.workersWG.Wait()
	e.persistSession()
	e.setStatus(status.Idle)
}

func (e *Engine) persistSession() {
	if e.statsSink == nil {
		return
	}
	snap := e.counters.snapshot()
	settings := e.settingsSnapshot()
	now := time.Now()
	rec := stats.SessionRecord{
		ID:              e.SessionID(),
		StartedAt:       now.Add(-snap.Uptime),
		EndedAt:         now,
		Host:            settings.Host,
		WorkerName:      settings.WorkerName,
		SharesSubmitted: snap.SharesSubmitted,
		SharesAccepted:  snap.SharesAccepted,
		SharesRejected:  snap.SharesRejected,
		BestShareBits:   snap.BestShareBits,
		PeakHashrate:    snap.PeakHashrate,
	}
	if err := e.statsSink.Record(rec); err != nil {
		e.log.WithError(err).Warn("failed to persist session stats")
	}
}

func (e *Engine) runConnection(settings Settings) {
	for {
		if !e.running.Load() {
			return
		}

		e.setStatus(status.Connecting)
		err := e.stratumClient.Connect(settings.Host, settings.Port)
		if err != nil {
			e.setStatus(classifyConnectError(err))
			e.log.WithError(err).Warn("connect failed")
		} else {
			e.setStatus(status.Connected)
			if err := e.stratumClient.Subscribe(); err != nil {
				e.log.WithError(err).Warn("failed to send subscribe")
			} else {
				e.setStatus(status.Subscribing)
			}
			<-e.stratumClient.Disconnected()
		}

		if !e.running.Load() || !e.reconnectEnabled.Load() {
			return
		}

		e.setStatus(status.Reconnecting)
		e.clearCurrentJob()

		wait := reconnectBase + time.Duration(rand.Int63n(int64(reconnectJitterSpan)))
		select {
		case <-time.After(wait):
		case <-e.stopCh:
			return
		}
	}
}

// classifyConnectError turns a dial error into the most specific status
// the error reveals.
func classifyConnectError(err error) status.Status {
	var dnsErr *net.DNSError
	if ok := asDNSError(err, &dnsErr); ok {
		return status.DNSFailed
	}
	var opErr *net.OpError
	if ok := asOpError(err, &opErr); ok {
		if opErr.Timeout() {
			return status.Timeout
		}
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return status.Timeout
	}
	return status.Refused
}

func asDNSError(err error, target **net.DNSError) bool {
	for err != nil {
		if d, ok := err.(*net.DNSError); ok {
			*target = d
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func asOpError(err error, target **net.OpError) bool {
	for err != nil {
		if d, ok := err.(*net.OpError); ok {
			*target = d
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (e *Engine) clearCurrentJob() {
	e.jobMu.Lock()
	e.currentJob = nil
	e.jobMu.Unlock()
}

func (e *Engine) signalJob() {
	e.jobMu.Lock()
	close(e.jobReady)
	e.jobReady = make(chan struct{})
	e.jobMu.Unlock()
}

func (e *Engine) snapshotJob() (*stratum.Job, []byte, int) {
	e.jobMu.RLock()
	defer e.jobMu.RUnlock()
	return e.currentJob, e.extranonce1, e.extranonce2Size
}

func (e *Engine) settingsSnapshot() Settings {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	return e.settings
}

// --- stratum.Handler ---

func (e *Engine) OnSubscribed(extranonce1 []byte, size int, err error) {
	if err != nil {
		e.setStatus(status.SubscribeFailed)
		e.reconnectEnabled.Store(false)
		e.stratumClient.Close()
		return
	}

	e.jobMu.Lock()
	e.extranonce1 = extranonce1
	e.extranonce2Size = size
	e.jobMu.Unlock()

	e.setStatus(status.Subscribed)

	login := e.settingsSnapshot().login()
	if err := e.stratumClient.Authorize(login); err != nil {
		e.log.WithError(err).Warn("failed to send authorize")
		return
	}
	e.setStatus(status.Authorizing)
}

func (e *Engine) OnAuthorized(ok bool, err error) {
	if !ok {
		e.setStatus(status.AuthFailed)
		e.reconnectEnabled.Store(false)
		e.stratumClient.Close()
		return
	}

	e.setStatus(status.Authorized)
	if err := e.stratumClient.SuggestDifficulty(initialSuggestDifficulty); err != nil {
		e.log.WithError(err).Warn("failed to send initial difficulty suggestion")
	}
}

func (e *Engine) OnJob(job stratum.Job) {
	e.jobMu.Lock()
	first := e.currentJob == nil
	jobCopy := job
	e.currentJob = &jobCopy
	e.jobMu.Unlock()

	// Workers, the hashrate sampler and the adaptive-difficulty timer live
	// for the whole run: they are started by the run's first job only, not
	// again after each reconnect (jobsReceived is reset by Start).
	firstOfRun := e.counters.jobsReceived.Load() == 0
	e.counters.recordJob()
	e.signalJob()

	if first {
		e.setStatus(status.Mining)
		go e.stallWatchdog(e.stopCh)
	}
	if firstOfRun {
		e.startWorkers()
		go e.hashrateSampler(e.stopCh)
		go e.adaptiveDifficultyTimer(e.stopCh)
	}
}

func (e *Engine) OnDifficulty(diff float64) {
	e.counters.setDifficulty(diff)
}

func (e *Engine) OnShareResult(accepted bool, err error) {
	e.counters.recordShareResult(accepted)
	if err != nil {
		e.log.WithError(err).Debug("share rejected")
	}
}

func (e *Engine) OnDisconnect(err error) {
	e.setStatus(status.Disconnected)
	if err != nil {
		e.log.WithError(err).Info("disconnected")
	}
}

func (e *Engine) OnError(err error) {
	e.log.WithError(err).Debug("protocol error")
}

var _ stratum.Handler = (*Engine)(nil)
