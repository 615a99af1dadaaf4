// Package app builds the pairchat service graph with samber/do.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nfrund/pairchat/internal/broker"
	"github.com/nfrund/pairchat/internal/chat"
	"github.com/nfrund/pairchat/internal/config"
	"github.com/nfrund/pairchat/internal/domain"
	"github.com/nfrund/pairchat/internal/logging"
	"github.com/nfrund/pairchat/internal/presence"
	"github.com/nfrund/pairchat/internal/pubsub"
	"github.com/nfrund/pairchat/internal/server"
	"github.com/nfrund/pairchat/internal/store/sqlite"
	"github.com/nfrund/pairchat/internal/store/surreal"
	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"
)

// Store is what the application needs from a storage driver.
type Store interface {
	domain.UserDirectory
	domain.MessageStore
	HealthCheck(ctx context.Context) error
	Shutdown() error
}

var (
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*surreal.Store)(nil)
)

// Tracing owns the tracer and its exporter flush.
type Tracing struct {
	Tracer   trace.Tracer
	shutdown func(context.Context) error
}

// Shutdown flushes pending spans.
func (t *Tracing) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

// Bus is the event bus shared by the engine, the broker mirror and presence.
type Bus struct {
	*pubsub.WatermillBridge
}

// Shutdown closes the bus.
func (b *Bus) Shutdown() error {
	return b.Close()
}

// Broker is the chat fan-out broker.
type Broker struct {
	*broker.Broker[chat.Outbound]
	cancel context.CancelFunc
}

// Shutdown stops mirroring and closes the broker.
func (b *Broker) Shutdown() error {
	b.cancel()
	return b.Close()
}

// App is the assembled application.
type App struct {
	injector *do.RootScope
}

// New registers every provider. Nothing is constructed until invoked.
func New(cfg *config.Config) *App {
	i := do.New()
	do.ProvideValue(i, cfg)
	do.Provide(i, provideLogger)
	do.Provide(i, provideTracing)
	do.Provide(i, provideBus)
	do.Provide(i, provideStore)
	do.Provide(i, provideBroker)
	do.Provide(i, provideEngine)
	do.Provide(i, providePresence)
	do.Provide(i, provideServer)
	return &App{injector: i}
}

// Server builds the HTTP server and everything it depends on.
func (a *App) Server() (*server.Server, error) {
	return do.Invoke[*server.Server](a.injector)
}

// Store opens the configured store only.
func (a *App) Store() (Store, error) {
	return do.Invoke[Store](a.injector)
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	logger, err := do.Invoke[*slog.Logger](a.injector)
	if err != nil {
		return slog.Default()
	}
	return logger
}

// Shutdown tears down every constructed service, dependents first.
func (a *App) Shutdown(ctx context.Context) error {
	report := a.injector.ShutdownWithContext(ctx)
	if !report.Succeed {
		return errors.New(report.Error())
	}
	return nil
}

func provideLogger(i do.Injector) (*slog.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return logging.New(cfg.LogFormat, cfg.LogLevel), nil
}

func provideTracing(i do.Injector) (*Tracing, error) {
	cfg := do.MustInvoke[*config.Config](i)
	tracer, shutdown, err := pubsub.SetupOTel(context.Background(), pubsub.TracingConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	return &Tracing{Tracer: tracer, shutdown: shutdown}, nil
}

func provideBus(i do.Injector) (*Bus, error) {
	cfg := do.MustInvoke[*config.Config](i)
	tracing := do.MustInvoke[*Tracing](i)

	opts := []pubsub.Option{pubsub.WithTracer(tracing.Tracer)}
	if logging.ParseLevel(cfg.LogLevel) == slog.LevelDebug {
		opts = append(opts, pubsub.WithDebugLogging())
	}
	return &Bus{pubsub.NewWatermillBridge(opts...)}, nil
}

func provideStore(i do.Injector) (Store, error) {
	cfg := do.MustInvoke[*config.Config](i)

	if cfg.StoreDriver == config.DriverSurreal {
		// The connection outlives Open, so it gets no deadline.
		s, err := surreal.Open(context.Background(), surreal.Config{
			URL:       cfg.SurrealURL,
			Namespace: cfg.SurrealNS,
			Database:  cfg.SurrealDB,
			Username:  cfg.SurrealUser,
			Password:  cfg.SurrealPass,
			Timeout:   cfg.DBQueryTimeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.DBQueryTimeout)
	defer cancel()
	s, err := sqlite.Open(ctx, cfg.SQLitePath, sqlite.WithQueryTimeout(cfg.DBQueryTimeout))
	if err != nil {
		return nil, err
	}
	return s, nil
}

func provideBroker(i do.Injector) (*Broker, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	bus := do.MustInvoke[*Bus](i)

	opts := []broker.Option[chat.Outbound]{broker.WithLogger[chat.Outbound](logger)}
	if cfg.BrokerMirror {
		opts = append(opts, broker.WithMirror[chat.Outbound](bus, chat.Encode))
	}
	b := broker.New(opts...)

	ctx, cancel := context.WithCancel(context.Background())
	if cfg.BrokerMirror {
		if err := b.Attach(ctx, bus, chat.DecodeOutbound); err != nil {
			cancel()
			return nil, fmt.Errorf("attach broker mirror: %w", err)
		}
		logger.Info("Broker mirroring enabled", "node", b.NodeID())
	}
	return &Broker{Broker: b, cancel: cancel}, nil
}

func provideEngine(i do.Injector) (*chat.Engine, error) {
	cfg := do.MustInvoke[*config.Config](i)
	store := do.MustInvoke[Store](i)
	b := do.MustInvoke[*Broker](i)
	bus := do.MustInvoke[*Bus](i)
	logger := do.MustInvoke[*slog.Logger](i)

	return chat.NewEngine(store, store, b, bus, chat.Options{
		RoomPolicy:    cfg.RoomPolicy,
		SendBuffer:    cfg.SendBuffer,
		WriteTimeout:  cfg.WriteTimeout,
		StoreTimeout:  cfg.DBQueryTimeout,
		MaxMessageLen: cfg.MaxMessageLength,
		MaxReadIDs:    cfg.MaxReadIDs,
	}, logger), nil
}

func providePresence(i do.Injector) (*presence.Service, error) {
	cfg := do.MustInvoke[*config.Config](i)
	store := do.MustInvoke[Store](i)
	bus := do.MustInvoke[*Bus](i)
	logger := do.MustInvoke[*slog.Logger](i)

	svc := presence.NewService(store,
		presence.WithOfflineDebounce(cfg.PresenceDebounce),
		presence.WithPublisher(bus),
		presence.WithLogger(logger),
	)
	if err := svc.Start(context.Background(), bus); err != nil {
		return nil, fmt.Errorf("start presence: %w", err)
	}
	return svc, nil
}

func provideServer(i do.Injector) (*server.Server, error) {
	store := do.MustInvoke[Store](i)
	return server.New(server.Dependencies{
		Config:   do.MustInvoke[*config.Config](i),
		Logger:   do.MustInvoke[*slog.Logger](i),
		Users:    store,
		Messages: store,
		Health:   store,
		Engine:   do.MustInvoke[*chat.Engine](i),
		Presence: do.MustInvoke[*presence.Service](i),
	})
}
