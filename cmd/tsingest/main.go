package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fluxgate/tsingest/internal/config"
	"github.com/fluxgate/tsingest/internal/logging"
	"github.com/fluxgate/tsingest/processor"
	"github.com/fluxgate/tsingest/transport"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		run()
	case "version":
		fmt.Printf("tsingest v%s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func run() {
	cfgPath := "tsingest.yaml"
	if len(os.Args) > 2 {
		cfgPath = os.Args[2]
	}

	startupLogger, startupCloser := logging.New(config.LogConfig{Level: "info", Format: "json", Output: "stdout"})
	if startupCloser != nil {
		defer startupCloser.Close()
	}
	startupLogger.Info("tsingest starting", "version", version)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		startupLogger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Logging)
	if logCloser != nil {
		defer logCloser.Close()
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), cfg.Transport.Timeout.Duration())
	svc, err := dial(dialCtx, cfg.Transport, logger)
	dialCancel()
	if err != nil {
		logger.Error("failed to dial ingestion service", "address", cfg.Transport.Address, "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	pcfg := processor.Config{
		Concurrency: processor.ConcurrencyConfig{
			Enabled:     cfg.Processor.Concurrency.Enabled,
			ThreadCount: cfg.Processor.Concurrency.ThreadCount,
		},
		FrameDecomposition: processor.FrameDecompositionConfig{
			Enabled:    cfg.Processor.FrameDecomposition.Enabled,
			MaxBinSize: cfg.Processor.FrameDecomposition.MaxBinSize,
		},
		BackPressure: processor.BackPressureConfig{
			Enabled:       cfg.Processor.BackPressure.Enabled,
			QueueCapacity: cfg.Processor.BackPressure.QueueCapacity,
		},
		PollInterval:    cfg.Processor.PollInterval.Duration(),
		ShutdownTimeout: cfg.Processor.ShutdownTimeout.Duration(),
	}

	regCtx, regCancel := context.WithTimeout(context.Background(), cfg.Transport.Timeout.Duration())
	providerUID, err := svc.RegisterProvider(regCtx, transport.Registration{Name: "tsingest"})
	regCancel()
	if err != nil {
		logger.Error("failed to register provider", "error", err)
		os.Exit(1)
	}

	proc := processor.New(providerUID, pcfg, logger)
	proc.Activate()
	logger.Info("processor ready", "provider_uid", providerUID, "address", cfg.Transport.Address)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go supply(proc, svc, logger, done)

	<-quit
	logger.Info("shutdown signal received")

	if err := proc.Shutdown(); err != nil {
		logger.Error("processor shutdown error", "error", err)
	}
	<-done

	logger.Info("tsingest stopped")
}

// supply drains proc's outbound messages and forwards each one over a
// dedicated ingestion stream opened on svc, the same downstream service
// used for provider registration. This is the downstream consumer the
// Processor's blocking supplier is built for; a deployment that forwards
// elsewhere would replace the Send/Recv pair below with its own transport.
func supply(proc *processor.Processor, svc transport.ServiceClient, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	ctx := context.Background()
	var delivered int64

	streaming, ok := svc.(transport.StreamingServiceClient)
	if !ok {
		logger.Warn("downstream service does not support streaming delivery; messages will be dropped")
	}
	var stream transport.IngestStreamClient
	if streaming != nil {
		s, err := streaming.IngestStream(ctx)
		if err != nil {
			logger.Error("failed to open ingestion stream", "error", err)
		} else {
			stream = s
			defer stream.CloseSend()
		}
	}

	for {
		req, err := proc.PollTimeout(ctx, time.Second)
		if err != nil {
			logger.Info("supply loop stopping", "delivered", delivered, "error", err)
			return
		}
		if req == nil {
			if !proc.IsSupplying() {
				logger.Info("supply loop stopping: processor drained", "delivered", delivered)
				return
			}
			continue
		}

		if stream == nil {
			continue
		}
		if err := stream.Send(req); err != nil {
			logger.Error("failed to send ingest request", "request_id", req.ClientRequestID, "error", err)
			continue
		}
		result, err := stream.Recv()
		if err != nil {
			logger.Error("failed to receive ingest acknowledgement", "request_id", req.ClientRequestID, "error", err)
			continue
		}
		if !result.Accepted {
			logger.Warn("ingest request rejected", "request_id", req.ClientRequestID, "detail", result.Detail)
			continue
		}
		delivered++
	}
}

func dial(ctx context.Context, cfg config.TransportConfig, logger *slog.Logger) (transport.ServiceClient, error) {
	tlsConfig, err := transport.NewTLSConfig(transport.TLSOptions{
		ServerName:         cfg.TLS.ServerName,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		AutocertCacheDir:   cfg.TLS.AutocertCacheDir,
	})
	if err != nil {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	switch cfg.Kind {
	case config.TransportQUIC:
		return transport.DialQUIC(ctx, cfg.Address, tlsConfig, logger)
	default:
		return transport.DialWebSocket(ctx, cfg.Address, tlsConfig, logger)
	}
}

func printUsage() {
	fmt.Println(`tsingest - client-side frame ingestion pipeline

Usage:
  tsingest <command> [options]

Commands:
  run [config]     Activate the processor and supply ingested messages
                   (default config: tsingest.yaml)
  version          Show version
  help             Show this help

Signals:
  SIGINT/SIGTERM   Graceful shutdown (drains in-flight frames)

Examples:
  tsingest run
  tsingest run /etc/tsingest/tsingest.yaml
  tsingest version`)
}
