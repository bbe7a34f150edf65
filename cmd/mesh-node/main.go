package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/s0fractal/consciousness-mesh-sub001/internal/mesh"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mesh-node:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "YAML config file (flags override it)")
		nodeID     = flag.String("id", "", "node id (random UUID when empty)")
		port       = flag.Int("port", -1, "TCP listen port, 0 for ephemeral")
		peers      = flag.String("peers", "", "comma-separated host:port peer addresses")
		agents     = flag.Int("agents", 0, "field agents per node")
		stepEvery  = flag.Duration("step", 0, "simulation step interval")
		syncEvery  = flag.Duration("sync", 0, "state sync interval")
		threshold  = flag.Float64("threshold", 0, "consensus agreement threshold (0,1]")
		logLevel   = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	logger, err := buildLogger(*logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg := mesh.DefaultConfig()
	if *configPath != "" {
		cfg, err = mesh.Load(*configPath)
		if err != nil {
			return err
		}
	}
	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *port >= 0 {
		cfg.Transport.ListenPort = *port
	}
	if *peers != "" {
		cfg.Transport.Peers = splitPeers(*peers)
	}
	if *agents > 0 {
		cfg.Field.Agents = *agents
	}
	if *stepEvery > 0 {
		cfg.StepInterval = mesh.Duration(*stepEvery)
	}
	if *syncEvery > 0 {
		cfg.SyncInterval = mesh.Duration(*syncEvery)
	}
	if *threshold > 0 {
		cfg.ConsensusThreshold = *threshold
	}

	node, err := mesh.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		return err
	}
	defer node.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := node.Events()
	statusTicker := time.NewTicker(10 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil

		case ev := <-events.Consensus():
			logger.Info("consensus",
				"agreeing", ev.Agreeing,
				"total", ev.Total,
				"ratio", ev.Ratio,
				"coherence", ev.Metrics.Coherence,
				"love", ev.Metrics.Love,
			)

		case ev := <-events.Resonance():
			logger.Info("resonance",
				"pattern", ev.Pattern,
				"strength", ev.Strength,
				"nodes", len(ev.Nodes),
			)

		case ev := <-events.Thoughts():
			logger.Info("thought",
				"from", ev.From,
				"emotion", ev.Thought.Emotion,
				"intensity", ev.Thought.Intensity,
			)

		case ev := <-events.Topology():
			logger.Debug("topology", "nodes", ev.Nodes, "edges", ev.Edges)

		case <-statusTicker.C:
			s := node.Status()
			logger.Info("status",
				"peers", len(s.Peers),
				"shared_states", s.SharedStates,
				"coherence", s.Metrics.Coherence,
				"love", s.Metrics.Love,
				"kohanist", s.Metrics.Kohanist,
				"syncs", s.Counters.SyncsPerformed,
				"consensus_events", s.Counters.ConsensusEvents,
			)
		}
	}
}

func buildLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func splitPeers(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
