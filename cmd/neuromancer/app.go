package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/neuromancer/neuromancer/config"
	"github.com/neuromancer/neuromancer/discovery"
	"github.com/neuromancer/neuromancer/executor"
	"github.com/neuromancer/neuromancer/librarian"
	"github.com/neuromancer/neuromancer/rpc"
)

// Set via ldflags.
var version = "dev"

func App() *cli.App {
	return &cli.App{
		Name:    "neuromancer",
		Usage:   "distributed job execution coordination",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"NEUROMANCER_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "executor",
				Usage:  "run an executor: routes identifiers to librarians and rebalances on membership changes",
				Action: runExecutor,
			},
			{
				Name:   "librarian",
				Usage:  "run a librarian: stores job graphs for the identifiers it owns",
				Action: runLibrarian,
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Load(c.String("config"))
}

func runExecutor(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	l := log.Jettison{}
	ctx := log.ContextWith(c.Context, j.MKV{"role": "executor", "addr": cfg.Executor.Addr})

	engine := cfg.Engine()
	ringOpts, err := cfg.Executor.RingOptions()
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Executor.Addr)
	if err != nil {
		return errors.Wrap(err, "listen", j.KV("addr", cfg.Executor.Addr))
	}

	pool := rpc.NewPool(engine)
	defer pool.Close()

	e := executor.New(engine,
		executor.WithLogger(l),
		executor.WithRingOptions(ringOpts...),
		executor.WithGuardPolicy(cfg.Executor.Guard.Policy()),
		executor.WithTransferer(pool),
		executor.WithCustodyOptions(cfg.Executor.CustodyOptions(l)),
		executor.WithRetryInterval(cfg.Executor.RetryInterval),
	)

	srv := rpc.NewServer(l)

	// One source feeds the membership: the administrative service or the
	// librarians registered in etcd.
	var w *discovery.Watcher
	if cfg.Executor.Membership == config.MembershipDiscovery {
		etcd, err := discovery.NewClient(cfg.Discovery.Endpoints, cfg.Discovery.DialTimeout)
		if err != nil {
			_ = lis.Close()
			return err
		}
		defer etcd.Close()

		rpc.RegisterAdministrative(srv, rpc.ManagedMembership{})
		w = discovery.NewWatcher(etcd, engine, e, cfg.Discovery.Options(l))
	} else {
		rpc.RegisterAdministrative(srv, e)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return e.Run(ctx)
	})
	if w != nil {
		eg.Go(func() error {
			return w.Run(ctx)
		})
	}
	serveGRPC(ctx, eg, srv, lis)
	serveMetrics(ctx, eg, cfg.Metrics.Addr)

	log.Info(ctx, "executor started", j.KV("membership", cfg.Executor.Membership))
	return eg.Wait()
}

func runLibrarian(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	l := log.Jettison{}
	ctx := log.ContextWith(c.Context, j.MKV{"role": "librarian", "addr": cfg.Librarian.Addr})

	engine := cfg.Engine()

	lis, err := net.Listen("tcp", cfg.Librarian.Addr)
	if err != nil {
		return errors.Wrap(err, "listen", j.KV("addr", cfg.Librarian.Addr))
	}

	etcd, err := discovery.NewClient(cfg.Discovery.Endpoints, cfg.Discovery.DialTimeout)
	if err != nil {
		_ = lis.Close()
		return err
	}
	defer etcd.Close()

	pool := rpc.NewPool(engine)
	defer pool.Close()

	lib := librarian.New(cfg.Librarian.Addr, engine, librarian.Options{
		Source:      pool,
		GuardPolicy: cfg.Librarian.Guard.Policy(),
		Log:         l,
	})

	srv := rpc.NewServer(l)
	rpc.RegisterJob(srv, lib)

	reg := discovery.NewRegistrar(etcd, cfg.Librarian.Addr, cfg.Discovery.Options(l))

	eg, ctx := errgroup.WithContext(ctx)
	serveGRPC(ctx, eg, srv, lis)
	eg.Go(func() error {
		return reg.Run(ctx)
	})
	serveMetrics(ctx, eg, cfg.Metrics.Addr)

	log.Info(ctx, "librarian started")
	return eg.Wait()
}

func serveGRPC(ctx context.Context, eg *errgroup.Group, srv *grpc.Server, lis net.Listener) {
	eg.Go(func() error {
		if err := srv.Serve(lis); err != nil {
			return errors.Wrap(err, "serve grpc")
		}
		return ctx.Err()
	})
	eg.Go(func() error {
		<-ctx.Done()
		srv.GracefulStop()
		return ctx.Err()
	})
}

func serveMetrics(ctx context.Context, eg *errgroup.Group, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	eg.Go(func() error {
		err := hs.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return ctx.Err()
		}
		return errors.Wrap(err, "serve metrics", j.KV("addr", addr))
	})
	eg.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(sctx)
		return ctx.Err()
	})
}
