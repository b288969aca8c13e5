package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/jaxron/conndef/pkg/client/logger"
	"github.com/xmidt-org/httpaux"
)

// ServerConfig holds the unmarshaled settings of the API server.
type ServerConfig struct {
	// Address is the bind address of the server. Defaults to ":8080".
	Address string `mapstructure:"address"`

	ReadTimeout       time.Duration `mapstructure:"readTimeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"readHeaderTimeout"`
	WriteTimeout      time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout       time.Duration `mapstructure:"idleTimeout"`
	MaxHeaderBytes    int           `mapstructure:"maxHeaderBytes"`

	// Header supplies HTTP headers to emit on every response from this server.
	Header http.Header `mapstructure:"header"`
}

// DefaultServerConfig returns the settings used when nothing is configured.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:           ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Connection tests may take up to their own timeout to answer.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
}

// NewServer creates an http.Server that serves h and adds the configured
// response headers.
func (sc ServerConfig) NewServer(h http.Handler) *http.Server {
	return &http.Server{
		Addr:              sc.Address,
		Handler:           httpaux.NewHeader(sc.Header).Then(h),
		ReadTimeout:       sc.ReadTimeout,
		ReadHeaderTimeout: sc.ReadHeaderTimeout,
		WriteTimeout:      sc.WriteTimeout,
		IdleTimeout:       sc.IdleTimeout,
		MaxHeaderBytes:    sc.MaxHeaderBytes,
	}
}

// ServerOnStart returns an fx.Hook OnStart closure that binds the server's
// address and runs its accept loop in the background. onExit runs when the
// loop ends.
func ServerOnStart(s *http.Server, l logger.Logger, onExit ...func()) func(context.Context) error {
	return func(ctx context.Context) error {
		var lc net.ListenConfig
		listener, err := lc.Listen(ctx, "tcp", s.Addr)
		if err != nil {
			return err
		}

		l.WithFields(logger.String("address", listener.Addr().String())).Info("API server listening")
		go func() {
			defer func() {
				for _, f := range onExit {
					f()
				}
			}()
			if err := s.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.WithFields(logger.Err(err)).Error("API server stopped")
			}
		}()
		return nil
	}
}

// ServerOnStop returns an fx.Hook OnStop closure that shuts the server down
// gracefully.
func ServerOnStop(s *http.Server) func(context.Context) error {
	return s.Shutdown
}
