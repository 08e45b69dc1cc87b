package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/packlane/pointsync/internal/api/syncapi"
	"github.com/packlane/pointsync/internal/broker/messages"
	"github.com/packlane/pointsync/internal/services/intake"
	"github.com/packlane/pointsync/internal/services/reconciler"
	"github.com/pkg/errors"
)

type pointsyncOpts struct {
	httpAddr      string
	topic         string
	consumerGroup string
	rateLimit     int64

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runPointsync(ctx context.Context, opts pointsyncOpts, server *syncapi.Server, engine *reconciler.Engine, in *intake.Service, consumer kafkaConsumer) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, server)
	}()

	consumerErr := make(chan error, 1)
	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		consumerErr <- consumer.Consume(ctx, func(_key, value []byte) error {
			return handleCarrierEvent(ctx, engine, in, value)
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	case err := <-consumerErr:
		return err
	}
}

// handleCarrierEvent dispatches a host platform carrier notification. Errors
// returned here keep the offset uncommitted, so transient store failures get
// retried; a truly unmatched owned carrier is fatal and stops the consumer.
func handleCarrierEvent(ctx context.Context, engine *reconciler.Engine, in *intake.Service, value []byte) error {
	var m messages.CarrierChanged
	if err := json.Unmarshal(value, &m); err != nil {
		slog.Warn("dropping malformed carrier event", "error", err.Error())
		return nil
	}

	if m.Deleted {
		if m.ShopID == 0 {
			slog.Warn("carrier deleted without shop scope, skipping", "carrier", m.CarrierID)
			return nil
		}
		return in.ReconcileStored(ctx, m.ShopID)
	}

	if err := engine.HandleCarrierChanged(ctx, m.CarrierID); err != nil {
		if errors.Is(err, reconciler.ErrUnmatchedCarrier) {
			return err
		}
		return errors.Wrap(err, "handle carrier change")
	}
	return nil
}

func runHTTPServer(ctx context.Context, lis net.Listener, server *syncapi.Server) error {
	srv := &http.Server{Handler: server.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("http server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
