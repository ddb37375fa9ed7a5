package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/hanpama/modelgate/internal/auth"
	"github.com/hanpama/modelgate/internal/config"
	"github.com/hanpama/modelgate/internal/eventbus"
	"github.com/hanpama/modelgate/internal/executor"
	"github.com/hanpama/modelgate/internal/hooks"
	"github.com/hanpama/modelgate/internal/ir"
	"github.com/hanpama/modelgate/internal/logger"
	"github.com/hanpama/modelgate/internal/metrics"
	"github.com/hanpama/modelgate/internal/otel"
	"github.com/hanpama/modelgate/internal/pgstore"
	"github.com/hanpama/modelgate/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the endpoints of the spec over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log, err := loadConfig(cmd, stderr)
			if err != nil {
				return err
			}
			def, err := loadDefinition(c.Spec, stderr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c, def, log)
		},
	}
}

// service is the wired application: handlers plus what must be released on
// shutdown.
type service struct {
	handler http.Handler
	metrics *metrics.Metrics
	closers []func(context.Context) error
}

func (s *service) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i](ctx)
	}
}

// setup wires the store, hook runtimes, authenticator, executor and
// observability for def.
func setup(ctx context.Context, c *config.Config, def *ir.Definition, log logger.Logger) (_ *service, err error) {
	svc := &service{}
	defer func() {
		if err != nil {
			svc.close(context.Background())
		}
	}()

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(c.Otel.Endpoint, c.Otel.Service)
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	svc.closers = append(svc.closers, shutdown)
	if c.Metrics.Addr != "" {
		svc.metrics = metrics.New()
		off := svc.metrics.Subscribe()
		svc.closers = append(svc.closers, func(context.Context) error { off(); return nil })
	}

	var store executor.Store
	if c.Database.URL != "" {
		pg, err := pgstore.Open(ctx, c.Database.URL, def, log.WithPrefix("pgstore: "))
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, func(context.Context) error { pg.Close(); return nil })
		if c.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		store = pg
	} else {
		log.Warnf("no database url configured, serving from memory")
		store = executor.NewMemStore(def)
	}

	endpoints, err := c.HookEndpoints()
	if err != nil {
		return nil, err
	}
	transport := hooks.NewTransport(
		hooks.WithProvider(hooks.NewStaticEndpoints(endpoints)),
		hooks.WithRPCTimeout(c.Hooks.RPCTimeout),
		hooks.WithMaxConnsPerEndpoint(c.Hooks.MaxConnsPerEndpoint),
	)
	svc.closers = append(svc.closers, func(context.Context) error { return transport.Close() })
	invoker, err := hooks.Setup(def, hooks.NewRegistry(), transport)
	if err != nil {
		return nil, err
	}

	exec := executor.New(def, store, invoker,
		executor.WithLogger(log.WithPrefix("executor: ")),
		executor.WithPageSize(c.Server.PageSize),
	)
	opts := []server.Option{
		server.WithTimeout(c.Server.Timeout),
		server.WithMaxBodyBytes(c.Server.MaxBodyBytes),
		server.WithLogger(log.WithPrefix("server: ")),
	}
	if c.Server.Pretty {
		opts = append(opts, server.WithPretty())
	}
	if len(c.Server.CORSOrigins) > 0 {
		opts = append(opts, server.WithCORS(c.Server.CORSOrigins...))
	}
	if def.Authenticator != nil {
		a, err := auth.New(def, store, auth.WithTokenTTL(c.Auth.TokenTTL), auth.WithBcryptCost(c.Auth.BcryptCost))
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithAuth(a))
	}
	h, err := server.New(exec, opts...)
	if err != nil {
		return nil, fmt.Errorf("server init: %w", err)
	}
	svc.handler = h
	return svc, nil
}

func serve(ctx context.Context, c *config.Config, def *ir.Definition, log logger.Logger) error {
	if logger.ParseLevel(c.Log.Level) < logger.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	svc, err := setup(ctx, c, def, log)
	if err != nil {
		return err
	}
	defer svc.close(context.Background())

	servers := []*http.Server{{Addr: c.Server.Addr, Handler: svc.handler}}
	if svc.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", svc.metrics.Handler())
		servers = append(servers, &http.Server{Addr: c.Metrics.Addr, Handler: mux})
	}

	errc := make(chan error, len(servers))
	for _, s := range servers {
		log.Infof("listening on %s", s.Addr)
		go func(s *http.Server) {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}(s)
	}

	select {
	case err = <-errc:
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range servers {
		_ = s.Shutdown(sctx)
	}
	return err
}
