// Command solominer runs a solo Stratum miner against a single pool
// connection: it loads configuration, starts the mining engine, and
// reports session stats on a clean shutdown.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solosha/solominer/internal/config"
	"github.com/solosha/solominer/internal/engine"
	"github.com/solosha/solominer/internal/stats"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (optional; env vars and defaults also apply)")
	statsPath := flag.String("stats", "solominer-stats.db", "path to the session stats database")
	flag.Parse()

	log := logrus.WithField("component", "main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	sink, err := stats.Open(*statsPath)
	if err != nil {
		log.WithError(err).Warn("failed to open stats database, continuing without persistence")
		sink = nil
	}

	eng := engine.New(sinkOrNil(sink))

	settings := engine.Settings{
		Host:            cfg.Host,
		Port:            cfg.Port,
		BitcoinAddress:  cfg.BitcoinAddress,
		WorkerName:      cfg.WorkerName,
		Network:         cfg.Network,
		PerformanceMode: cfg.PerformanceMode,
		GPUThreads:      cfg.GPUThreads,
		CPUThreads:      cfg.CPUThreads,
		StallTimeout:    time.Duration(cfg.StallTimeoutMinutes) * time.Minute,
		ClientID:        "solominer/1.0",
	}

	if err := eng.Start(settings); err != nil {
		log.WithError(err).Fatal("failed to start mining engine")
	}
	log.WithFields(logrus.Fields{
		"host": cfg.Host,
		"port": cfg.Port,
	}).Info("solominer started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	eng.Stop() // persists session totals through sink, if any

	if sink != nil {
		if err := sink.Close(); err != nil {
			log.WithError(err).Warn("failed to close stats database")
		}
	}

	snap := eng.Snapshot()
	log.WithFields(logrus.Fields{
		"shares_submitted": snap.SharesSubmitted,
		"shares_accepted":  snap.SharesAccepted,
		"best_share_bits":  snap.BestShareBits,
	}).Info("solominer stopped")
}

func sinkOrNil(s *stats.Store) stats.Recorder {
	if s == nil {
		return nil
	}
	return s
}
