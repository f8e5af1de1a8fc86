// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Program vissd runs a VISS-style vehicle signal server.
//
// Usage:
//
//	vissd
//
// The server accepts WebSocket connections on ws://localhost:8088/ and
// simulates live vehicle signal traffic for its subscribers. Collected
// metrics are exported as expvar on http://localhost:8088/debug/vars.
package main

import (
	"context"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/creachadair/wschannel"
	"github.com/pkg/errors"
	"github.com/visslink/visrpc"
	"github.com/visslink/visrpc/channel"
	"github.com/visslink/visrpc/handler"
	"github.com/visslink/visrpc/internal/vlog"
	"github.com/visslink/visrpc/metrics"
	"github.com/visslink/visrpc/server"
	"github.com/visslink/visrpc/vehicle"
	"golang.org/x/sync/errgroup"
)

const listenAddr = ":8088"

func main() {
	log := vlog.New(os.Stderr, vlog.Debug).WithField("job", "vissd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	expvar.Publish("visrpc", expvar.Func(func() any { return m.Snapshot() }))

	reg := visrpc.NewRegistry(&visrpc.RegistryOptions{
		Logger:  log.WithField("task", "registry").Engine(),
		Metrics: m,
	})

	mux := handler.Map{
		"print_name_and_age": handler.New(printNameAndAge(log)),
		"echo":               echo,
	}

	sim, err := vehicle.NewSimulator(reg, &vehicle.Options{
		Logger: log.WithField("task", "simulator").Engine(),
	})
	if err != nil {
		log.WithError(err).Error("invalid simulator configuration")
		os.Exit(1)
	}

	lst := wschannel.NewListener(nil)
	hmux := http.NewServeMux()
	hmux.Handle("/", lst)
	hmux.Handle("/debug/vars", expvar.Handler())
	hs := &http.Server{Addr: listenAddr, Handler: hmux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hs.ListenAndServe(); err != http.ErrServerClosed {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		return server.Loop(ctx, wsAccepter{lst}, mux, &server.LoopOptions{
			ServerOptions: &visrpc.ServerOptions{
				Registry: reg,
				Logger:   log.WithField("task", "conn").Engine(),
				Metrics:  m,
			},
			Logger: log.WithField("task", "accept").Engine(),
		})
	})
	g.Go(func() error {
		if err := sim.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		lst.Close()
		return hs.Shutdown(context.Background())
	})

	log.Info("please connect tablet to port 8088")
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server exited")
		os.Exit(1)
	}
	log.Info("server stopped")
}

// printNameAndAge returns the built-in demo function. It accepts a name and
// an age and answers the canned value 4711.
func printNameAndAge(log *vlog.Logger) func(context.Context, string, int32) (int32, error) {
	return func(_ context.Context, name string, age int32) (int32, error) {
		log.WithField("name", name).WithField("age", age).Info("print_name_and_age called")
		return 4711, nil
	}
}

// echo answers any call with its own arguments.
func echo(_ context.Context, call *visrpc.Call) ([]visrpc.Argument, error) {
	return call.Arguments(), nil
}

// wsAccepter adapts a WebSocket listener to the server.Accepter interface.
type wsAccepter struct{ lst *wschannel.Listener }

func (w wsAccepter) Accept(ctx context.Context) (channel.Channel, error) {
	ch, err := w.lst.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return ch, nil
}
