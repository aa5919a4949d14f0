package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"kitchen-print/internal/api"
	"kitchen-print/internal/config"
	"kitchen-print/internal/connection"
	"kitchen-print/internal/printer"
	"kitchen-print/internal/printing"
	"kitchen-print/internal/queue"
	"kitchen-print/internal/settings"
	"kitchen-print/internal/tele"
)

const (
	AppVersion = "1.0.0"
	AppName    = "kitchen-print"

	shutdownTimeout = 10 * time.Second
)

type App struct {
	cfg     config.Config
	log     *zap.Logger
	conn    *connection.Manager
	store   *settings.Store
	queue   *queue.Queue
	tele    *tele.Tele
	adapter *printing.Printer
	srv     *http.Server
}

func main() {
	fs := pflag.NewFlagSet(AppName, pflag.ExitOnError)
	config.Flags(fs)
	version := fs.Bool("version", false, "print version and exit")
	listDevices := fs.Bool("list-devices", false, "list serial, Bluetooth and USB printers and exit")
	_ = fs.Parse(os.Args[1:])

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		return
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer log.Sync()

	if *listDevices {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(printer.Discover(log))
		return
	}

	a, err := newApp(cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := a.run(ctx); err != nil {
		log.Error("stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func newApp(cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	var err error
	if a.store, err = settings.Open(cfg.Settings.Path, log); err != nil {
		return nil, errors.Annotate(err, "settings")
	}
	if a.tele, err = tele.New(cfg.MQTT, log); err != nil {
		return nil, err
	}

	qopts := cfg.Queue.Options()
	qopts.OnResult = a.tele.JobResult
	if a.queue, err = queue.Open(cfg.Queue.Path, qopts, log); err != nil {
		a.tele.Close()
		return nil, err
	}

	pcfg := cfg.Printer
	a.conn = connection.New(func(ctx context.Context) (printer.Service, error) {
		return printer.Open(ctx, pcfg, log)
	}, cfg.Connection.Options(), log)

	listener := connection.ListenerFuncs{
		Connected:    func() { log.Info("printer ready") },
		Disconnected: func() { log.Warn("printer disconnected") },
		Error:        func(msg string) { log.Error("printer error", zap.String("message", msg)) },
	}
	a.adapter = printing.New(a.conn, a.store, listener, cfg.Label.Options(), log)

	gin.SetMode(gin.ReleaseMode)
	router := api.New(api.Deps{
		Conn:     a.conn,
		Printer:  a.adapter,
		Store:    a.store,
		Queue:    a.queue,
		Listener: listener,
		Config:   pcfg,
		Log:      log,
	}, cfg.HTTP.CORSOrigins)
	a.srv = &http.Server{Addr: cfg.HTTP.Listen, Handler: router}

	if cfg.Connection.ConnectOnStart {
		a.conn.Bind(context.Background(), listener)
	}
	return a, nil
}

func (a *App) run(ctx context.Context) error {
	events, unsubscribe := a.conn.Subscribe()
	defer unsubscribe()
	go a.tele.Watch(ctx, events)

	queueDone := make(chan error, 1)
	go func() { queueDone <- a.queue.Run(ctx, queue.Dispatch(a.adapter)) }()

	srvErr := make(chan error, 1)
	go func() {
		a.log.Info("listening", zap.String("addr", a.srv.Addr), zap.String("version", AppVersion))
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
		}
		close(srvErr)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-srvErr:
	case err = <-queueDone:
		err = errors.Annotate(err, "job queue")
	}

	a.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := a.srv.Shutdown(sctx); serr != nil {
		a.log.Warn("http shutdown", zap.Error(serr))
	}
	a.cleanup()
	return errors.Trace(err)
}

func (a *App) cleanup() {
	if err := a.queue.Close(); err != nil {
		a.log.Warn("queue close", zap.Error(err))
	}
	a.conn.Close()
	a.tele.Close()
}
