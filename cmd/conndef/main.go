// Command conndef serves the connection definition API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jaxron/conndef/pkg/api"
	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/jaxron/conndef/pkg/config"
	"github.com/jaxron/conndef/pkg/metrics"
	"github.com/jaxron/conndef/pkg/service"
	"github.com/jaxron/conndef/pkg/store"
	"github.com/jaxron/conndef/pkg/store/redis"
	"github.com/jaxron/conndef/pkg/tester"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/rueidis"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type configPath string

func main() {
	fs := pflag.NewFlagSet("conndef", pflag.ExitOnError)
	path := fs.StringP("config", "c", os.Getenv("CONNDEF_CONFIG"), "path to the configuration file")
	_ = fs.Parse(os.Args[1:])

	app := fx.New(
		fx.Supply(configPath(*path)),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l}
		}),
		fx.Provide(
			provideConfig,
			provideZap,
			provideLogger,
			provideRegistry,
			provideStore,
			provideTester,
			provideConnections,
			provideAPI,
		),
		fx.Invoke(runServer),
	)

	if err := app.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	app.Run()
}

func provideConfig(path configPath) (config.Config, error) {
	return config.Load(string(path))
}

func provideZap(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	l, err := logger.NewZap(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = l.Sync()
			return nil
		},
	})
	return l, nil
}

func provideLogger(l *zap.Logger) logger.Logger {
	return logger.NewZapLogger(l)
}

func provideRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	err := multierr.Combine(
		reg.Register(collectors.NewGoCollector()),
		reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})),
		metrics.Register(reg),
	)
	return reg, err
}

func provideStore(lc fx.Lifecycle, cfg config.Config, l logger.Logger) (store.Store, error) {
	if cfg.Store.Driver != config.DriverRedis {
		l.Info("Using in-memory store")
		return store.NewMemory(), nil
	}

	rc := cfg.Store.Redis
	s, err := redis.Dial(rueidis.ClientOption{
		InitAddress: rc.Addresses,
		Username:    rc.Username,
		Password:    rc.Password,
		SelectDB:    rc.DB,
	}, rc.Prefix, l)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: s.Ping,
		OnStop: func(context.Context) error {
			s.Close()
			return nil
		},
	})
	l.WithFields(logger.Any("addresses", rc.Addresses)).Info("Using Redis store")
	return s, nil
}

func provideTester(cfg config.Config, l logger.Logger) (*tester.Tester, error) {
	return tester.New(cfg.Tester, l)
}

func provideConnections(s store.Store, t *tester.Tester, cfg config.Config, l logger.Logger) *service.Connections {
	return service.New(s, t, cfg.Connection, l)
}

func provideAPI(c *service.Connections, reg *prometheus.Registry, l logger.Logger) *api.API {
	return api.New(c, reg, l)
}

func runServer(lc fx.Lifecycle, sh fx.Shutdowner, cfg config.Config, a *api.API, l logger.Logger) {
	server := cfg.Server.NewServer(a.Handler())
	lc.Append(fx.Hook{
		OnStart: api.ServerOnStart(server, l, func() { _ = sh.Shutdown() }),
		OnStop:  api.ServerOnStop(server),
	})
}
