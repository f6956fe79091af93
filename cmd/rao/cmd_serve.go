package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/grid-rao/internal/replay"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
)

var (
	serveFixture     string
	serveAddr        string
	serveMetricsAddr string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve sensitivity computations of a fixture network over gRPC",
		Long: `serve exposes the linear network of a fixture as a sensitivity server, so
that "rao run --remote" can optimize against it. Prometheus metrics are served
on --metrics-addr.`,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveFixture, "fixture", "", "case fixture JSON (required)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "localhost:50061", "gRPC listen address")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "metrics listen address; disabled when empty")
	_ = serveCmd.MarkFlagRequired("fixture")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := slog.Default().With(slog.String("component", "serve"))

	f, err := replay.LoadFixture(serveFixture)
	if err != nil {
		return err
	}
	c, _, err := f.Build()
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", serveAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", serveAddr, err)
	}
	g := grpc.NewServer()
	sensitivity.RegisterServer(g, sensitivity.NewServer(sensitivity.NewLinearProvider(), c.Network, c.Crac))

	var metrics *http.Server
	if serveMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metrics = &http.Server{Addr: serveMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		log.Info("serving metrics", slog.String("addr", serveMetricsAddr))
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		g.GracefulStop()
		if metrics != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metrics.Shutdown(shutdownCtx)
		}
	}()

	log.Info("serving sensitivity computations",
		slog.String("addr", lis.Addr().String()),
		slog.String("case", c.ID))
	if err := g.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}
