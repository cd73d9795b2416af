package engine

import (
	"encoding/hex"
	"fmt"
	"math/bits"
	"math/rand"
	"runtime"
	"time"

	"github.com/solosha/solominer/internal/header"
	"github.com/solosha/solominer/internal/kernel"
	"github.com/solosha/solominer/internal/status"
)

const (
	// cpuBatchSize/gpuBatchSize are how many nonces a worker asks its kernel
	// to sweep per dispatch before checking for a new job or a stop signal.
	cpuBatchSize = 1 << 16
	gpuBatchSize = 1 << 22

	// kernelRetryBackoff is how long a worker waits after a failed kernel
	// dispatch before retrying, giving GPU memory pressure time to subside.
	kernelRetryBackoff = 5 * time.Second
)

func selectKernel(settings Settings) (kernel.Kernel, bool) {
	if settings.PerformanceMode == "gpu" {
		shards := settings.GPUThreads
		if shards < 1 {
			shards = 1
		}
		return kernel.NewGPUKernel(shards), true
	}
	return kernel.NewCPUKernel(), false
}

func (e *Engine) workerCount() int {
	s := e.settingsSnapshot()
	if e.usingGPU {
		if s.GPUThreads > 0 {
			return s.GPUThreads
		}
		return 1
	}
	return maxInt(s.CPUThreads, runtime.NumCPU()-1, 1)
}

func maxInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func (e *Engine) startWorkers() {
	n := e.workerCount()
	e.log.WithField("workers", n).Info("starting mining workers")
	for i := 0; i < n; i++ {
		e.workersWG.Add(1)
		go e.runWorker(i, n)
	}
}

func (e *Engine) waitForJob(stop <-chan struct{}) bool {
	for {
		e.jobMu.RLock()
		job := e.currentJob
		ready := e.jobReady
		e.jobMu.RUnlock()
		if job != nil {
			return true
		}
		select {
		case <-ready:
		case <-time.After(jobWaitPollInterval):
		case <-stop:
			return false
		}
	}
}

func (e *Engine) runWorker(idx, total int) {
	defer e.workersWG.Done()

	// partitionSize is computed in uint64 and only reduced mod 2^32 once a
	// concrete cursor is derived from it: 2^32 itself doesn't fit in
	// uint32, so total == 1 (the documented single-worker default for both
	// CPU and GPU) must not be allowed to truncate this to zero.
	const nonceSpace = uint64(1) << 32
	partitionSize := nonceSpace / uint64(total)

	batchSize := uint64(cpuBatchSize)
	if e.usingGPU {
		batchSize = gpuBatchSize
	}

	var cursor uint32
	var lastJobID string
	initialized := false

	rng := rand.New(rand.NewSource(int64(idx) + time.Now().UnixNano()))

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		if !e.waitForJob(e.stopCh) {
			return
		}

		job, extranonce1, extranonce2Size := e.snapshotJob()
		if job == nil {
			continue
		}

		if !initialized || job.ID != lastJobID {
			start := uint64(idx)*partitionSize + uint64(rng.Int63n(int64(partitionSize)))
			cursor = uint32(start % nonceSpace)
			lastJobID = job.ID
			initialized = true
		}

		extranonce2 := randomExtranonce2(rng, extranonce2Size)
		merkleRoot := header.ComputeMerkleRoot(job.Coinb1, extranonce1, extranonce2, job.Coinb2, job.MerkleBranch)
		hdr, err := header.Build(job.Version, job.PrevHash, merkleRoot, job.NTime, job.NBits)
		if err != nil {
			e.log.WithError(err).Warn("failed to build header for job")
			continue
		}

		diff := e.counters.currentDifficulty()
		target := kernel.NewTarget(shareTarget(diff))

		nonce, found, err := e.krn.Search(hdr, target, cursor, batchSize)
		if err != nil {
			e.log.WithError(err).WithField("component", "kernel").Error("kernel dispatch failed")
			time.Sleep(kernelRetryBackoff)
			continue
		}

		e.counters.setBestShareBits(e.krn.BestShareBits())

		cursor += uint32(batchSize)

		latestJob, _, _ := e.snapshotJob()
		if latestJob == nil || latestJob.ID != job.ID {
			initialized = false
			continue
		}

		if found {
			actualNonce := nonce
			if e.krn.NonceDomain() == kernel.DomainBE {
				actualNonce = bits.ReverseBytes32(nonce)
			}
			e.submitShare(shareCandidate{
				jobID:       job.ID,
				extranonce2: extranonce2,
				nTime:       job.NTime,
				nonce:       actualNonce,
			})
		}
	}
}

type shareCandidate struct {
	jobID       string
	extranonce2 []byte
	nTime       string
	nonce       uint32
}

func (e *Engine) submitShare(cand shareCandidate) {
	nonceHex := fmt.Sprintf("%08x", cand.nonce)
	extranonce2Hex := hex.EncodeToString(cand.extranonce2)
	e.counters.recordSubmit()
	if err := e.stratumClient.SubmitShare(cand.jobID, extranonce2Hex, cand.nTime, nonceHex); err != nil {
		e.log.WithError(err).Warn("failed to submit share")
	}
}

func randomExtranonce2(rng *rand.Rand, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(rng.Intn(256))
	}
	return b
}

func (e *Engine) hashrateSampler(stop <-chan struct{}) {
	ticker := time.NewTicker(hashrateSampleEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			tried := e.krn.HashesTried()
			rate := float64(tried) / hashrateSampleEvery.Seconds()
			e.counters.setHashrate(rate)
		}
	}
}

func (e *Engine) stallWatchdog(stop <-chan struct{}) {
	s := e.settingsSnapshot()
	if s.StallTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(s.StallTimeout)
	defer ticker.Stop()

	var lastJobs uint64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := e.counters.snapshot()
			if snap.JobsReceived == lastJobs && e.Status() == status.Mining {
				e.log.Warn("no new job within stall timeout, forcing reconnect")
				e.stratumClient.Close()
				return
			}
			lastJobs = snap.JobsReceived
		}
	}
}
