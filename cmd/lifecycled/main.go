package main

import (
	"encoding/binary"
	"flag"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	lifecycle "github.com/nodeplatform/lifecyclecore"
)

// defaultPlatformClientID derives a stable ClientID from the first 8
// bytes of a freshly generated instance UUID, so the always-registered
// platform bookkeeping client (see Engine.RegisterDefaultClient) gets an
// id that doesn't collide with transport-assigned client ids in
// practice without this process needing to coordinate one.
func defaultPlatformClientID(instanceID uuid.UUID) lifecycle.ClientID {
	return lifecycle.ClientID(binary.BigEndian.Uint64(instanceID[:8]))
}

func main() {
	configPath := flag.String("config", "", "path to a phase-timeout config file")
	flag.Parse()

	zl, err := zap.NewProduction()
	if err != nil {
		os.Exit(-1)
	}
	defer zl.Sync()
	log := lifecycle.NewZapLogger(zl.Sugar())

	cfg, err := lifecycle.LoadConfig(*configPath)
	if err != nil {
		zl.Sugar().Errorf("loading config: %v", err)
		os.Exit(-1)
	}

	registry := prometheus.NewRegistry()
	metrics := lifecycle.NewPrometheusMetrics(registry)

	instanceID := uuid.New()
	zl.Sugar().Infof("starting lifecycle core instance=%s", instanceID)

	engine := lifecycle.NewEngine(
		nopTransport{},
		lifecycle.NoopPlatform{},
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(metrics),
		lifecycle.WithConfig(cfg),
	)
	defer engine.Close()

	engine.RegisterDefaultClient(defaultPlatformClientID(instanceID))

	// Minimal signal handler: flip an atomic flag and wake the main wait.
	// No cleanup logic belongs here beyond that.
	var shutdownRequested atomic.Bool
	woken := make(chan struct{}, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		shutdownRequested.Store(true)
		select {
		case woken <- struct{}{}:
		default:
		}
	}()

	<-woken

	status := engine.SetNodeState(lifecycle.ShuttingDown, true)
	if status != lifecycle.StatusOk {
		zl.Sugar().Errorf("shutdown request rejected: %s", status)
		os.Exit(-1)
	}

	for engine.QueryNodeState() != lifecycle.Shutdown {
		time.Sleep(10 * time.Millisecond)
	}

	if shutdownRequested.Load() {
		os.Exit(0)
	}
	os.Exit(-1)
}

// nopTransport is the placeholder Transport used until a real IPC layer
// is wired in; delivery to clients is outside this module's scope.
type nopTransport struct{}

func (nopTransport) Notify(lifecycle.ClientID, lifecycle.ShutdownKind) {}
