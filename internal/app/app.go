package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"google.golang.org/grpc"

	mqttadapter "github.com/lcalzada-xor/accessoryd/internal/adapters/mqtt"
	"github.com/lcalzada-xor/accessoryd/internal/adapters/sources/bluez"
	"github.com/lcalzada-xor/accessoryd/internal/adapters/sources/prefs"
	"github.com/lcalzada-xor/accessoryd/internal/adapters/sources/profiler"
	"github.com/lcalzada-xor/accessoryd/internal/adapters/web"
	webserver "github.com/lcalzada-xor/accessoryd/internal/adapters/web/server"
	"github.com/lcalzada-xor/accessoryd/internal/config"
	"github.com/lcalzada-xor/accessoryd/internal/core/ports"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/directory"
	grpcserver "github.com/lcalzada-xor/accessoryd/internal/core/services/grpc"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/reconcile"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/registry"
	"github.com/lcalzada-xor/accessoryd/internal/core/services/router"
	"github.com/lcalzada-xor/accessoryd/internal/mock"
	"github.com/lcalzada-xor/accessoryd/internal/telemetry"
)

// Application holds the core components of the daemon.
type Application struct {
	Config  *config.Config
	Logger  *slog.Logger
	Runtime *config.Runtime

	Directory ports.DeviceDirectory
	Sources   []ports.TelemetrySource
	Cache     *reconcile.Cache
	Devices   *registry.AccessoryRegistry
	Subject   *registry.AccessorySubject
	Router    *router.Router
	Poller    *directory.Poller

	WebServer  *webserver.Server
	Health     *grpcserver.HealthServer
	GrpcServer *grpc.Server
	Scheduler  *cron.Cron
	MQTT       *mqttadapter.Dispatcher
	Mock       *mock.Environment

	closers []func()
}

// New creates a new Application instance and bootstraps its components.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &Application{
		Config:  cfg,
		Logger:  logger,
		Runtime: config.NewRuntime(cfg),
	}

	if err := app.bootstrap(); err != nil {
		app.close()
		return nil, fmt.Errorf("application bootstrap failed: %w", err)
	}
	return app, nil
}

// bootstrap orchestrates the initialization sequence.
func (app *Application) bootstrap() error {
	telemetry.InitMetrics()

	if err := app.initDevices(); err != nil {
		return err
	}
	app.initEngine()
	if err := app.initDispatchers(); err != nil {
		return err
	}
	app.initServers()
	app.initScheduler()
	return nil
}

// initDevices selects the device directory and the telemetry sources.
func (app *Application) initDevices() error {
	cfg := app.Config

	if cfg.MockMode {
		scenario := os.Getenv("ACCESSORYD_MOCK_SCENARIO")
		if scenario == "" {
			scenario = "basic"
		}
		app.Mock = mock.NewEnvironment(scenario, time.Now().UnixNano(), app.Logger)
		app.Directory = app.Mock
		app.Sources = app.Mock.Sources()
		app.Logger.Info("mock mode active: simulating accessories", "scenario", scenario)
		return nil
	}

	bus, err := bluez.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}
	app.closers = append(app.closers, func() { bus.Close() })
	app.Directory = bluez.NewDirectory(bus, cfg.BluezAdapter, app.Logger)

	if !cfg.DisableRegistry {
		app.Sources = append(app.Sources, bluez.NewBatteryRegistry(bus))
	}
	if !cfg.DisablePrefs {
		app.Sources = append(app.Sources, prefs.New(cfg.PrefsPath))
	}
	if !cfg.DisableProfiler {
		p := profiler.New(profiler.Config{Command: cfg.ProfilerCommand, Timeout: cfg.ProfilerTimeout}, app.Logger)
		app.Sources = append(app.Sources, profiler.NewBreaker(p, profiler.BreakerConfig{
			MaxFailures: cfg.BreakerFailures,
			Cooldown:    cfg.BreakerCooldown,
		}, app.Logger))
	}
	return nil
}

func (app *Application) initEngine() {
	app.Cache = reconcile.NewCache(reconcile.Config{
		TTL:            app.Runtime.RefreshInterval(),
		StaleSourceTTL: app.Config.StaleSourceTTL,
		Logger:         app.Logger,
	}, app.Sources...)

	app.Devices = registry.NewAccessoryRegistry()
	app.Subject = registry.NewAccessorySubject()
	app.Router = router.New(app.Cache, app.Runtime, app.Devices, app.Subject, router.Config{Logger: app.Logger})

	app.Health = grpcserver.NewHealthServer(app.Logger)
	app.Poller = directory.NewPoller(app.Directory, app.Router, directory.Config{
		PollInterval: app.Config.PollInterval,
		Logger:       app.Logger,
		Health:       app.Health,
	})
}

func (app *Application) initDispatchers() error {
	app.Subject.AddObserver(registry.NewLogObserver(app.Logger))

	if app.Config.MQTTBroker == "" {
		return nil
	}
	d, err := mqttadapter.Connect(mqttadapter.Config{
		Broker:   app.Config.MQTTBroker,
		Topic:    app.Config.MQTTTopic,
		Username: app.Config.MQTTUsername,
		Password: app.Config.MQTTPassword,
		Retain:   true,
	}, app.Logger)
	if err != nil {
		return fmt.Errorf("mqtt dispatcher: %w", err)
	}
	app.MQTT = d
	app.closers = append(app.closers, d.Close)
	app.Subject.AddObserver(d)
	return nil
}

func (app *Application) initServers() {
	ws := web.NewWSManager(app.Logger)
	app.Subject.AddObserver(ws)
	app.WebServer = webserver.NewServer(app.Config.Addr, app.Router, app.Runtime, ws, app.Logger)

	if app.Config.GRPCPort > 0 {
		app.GrpcServer = grpcserver.NewGrpcServer(app.Health)
	}
}

func (app *Application) initScheduler() {
	logger := cronLogger{app.Logger.With("component", "scheduler")}
	app.Scheduler = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
}

// Run starts the application components and manages their execution lifecycle.
func (app *Application) Run(ctx context.Context) error {
	app.Logger.Info("starting accessoryd components")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if _, err := app.Scheduler.AddFunc(app.Config.RefreshSchedule, func() {
		app.Router.RefreshConnected(ctx)
	}); err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}

	errChan := make(chan error, 3)
	var loops sync.WaitGroup

	go func() {
		if err := app.WebServer.Run(ctx); err != nil {
			errChan <- fmt.Errorf("web server error: %w", err)
		}
	}()

	if app.GrpcServer != nil {
		go func() {
			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", app.Config.GRPCPort))
			if err != nil {
				errChan <- fmt.Errorf("grpc listen error: %w", err)
				return
			}
			app.Logger.Info("grpc health server listening", "port", app.Config.GRPCPort)

			go func() {
				<-ctx.Done()
				app.GrpcServer.GracefulStop()
			}()

			if err := app.GrpcServer.Serve(lis); err != nil {
				errChan <- fmt.Errorf("grpc server error: %w", err)
			}
		}()
	}

	loops.Add(2)
	go func() {
		defer loops.Done()
		if err := app.Poller.Run(ctx); err != nil {
			errChan <- fmt.Errorf("directory poller error: %w", err)
		}
	}()
	go func() {
		defer loops.Done()
		if err := app.Directory.Subscribe(ctx, app.Poller.Notify); err != nil {
			// Polling still reconciles without notifications.
			app.Logger.Warn("device notifications unavailable, relying on polling", "error", err)
		}
	}()

	if app.Mock != nil {
		loops.Add(1)
		go func() {
			defer loops.Done()
			app.Mock.Run(ctx, mock.DefaultStepInterval)
		}()
	}

	app.Scheduler.Start()
	app.Logger.Info("accessoryd ready")

	var runErr error
	select {
	case <-ctx.Done():
		app.Logger.Info("termination signal received")
	case runErr = <-errChan:
		cancel()
	}

	<-app.Scheduler.Stop().Done()
	loops.Wait()
	app.Router.Wait()
	app.close()
	return runErr
}

func (app *Application) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
	app.closers = nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
