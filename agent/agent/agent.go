// Package agent is the device runtime: it keeps the control channel to the
// dispatch server alive, announces the device and its printers, and runs
// server commands on a single background worker.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/tzi-shue/print-service-deploy/agent/autoupdate"
	"github.com/tzi-shue/print-service-deploy/agent/discovery"
	"github.com/tzi-shue/print-service-deploy/agent/housekeeping"
	"github.com/tzi-shue/print-service-deploy/agent/identity"
	"github.com/tzi-shue/print-service-deploy/agent/metrics"
	"github.com/tzi-shue/print-service-deploy/agent/printers"
	"github.com/tzi-shue/print-service-deploy/agent/printjob"
	"github.com/tzi-shue/print-service-deploy/agent/router"
	"github.com/tzi-shue/print-service-deploy/agent/spooler"
	"github.com/tzi-shue/print-service-deploy/agent/storage"
	"github.com/tzi-shue/print-service-deploy/agent/transport"
	"github.com/tzi-shue/print-service-deploy/common/util"
	"github.com/tzi-shue/print-service-deploy/common/ws"
)

// Transport is the control channel as seen by the runtime.
type Transport interface {
	Connect(ctx context.Context) error
	Send(msg ws.Message) error
	Poll(timeout time.Duration) ([]ws.Message, error)
	Connected() bool
	Close() error
}

// Updater installs replacement binaries.
type Updater interface {
	Apply(ctx context.Context, req autoupdate.Request) autoupdate.Result
	Info() (autoupdate.VersionInfo, error)
}

// NetworkScanner finds network printers.
type NetworkScanner interface {
	Scan(ctx context.Context) ([]discovery.Printer, error)
}

// LogSource serves the agent's own log files.
type LogSource interface {
	Dates() ([]string, error)
	Tail(date string, n int) ([]string, error)
}

// TempCleaner removes spool leftovers.
type TempCleaner interface {
	CleanTemp(maxAge time.Duration) housekeeping.Report
}

// Logger interface for the runtime
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

type nullLogger struct{}

func (nullLogger) Error(msg string, context ...interface{}) {}
func (nullLogger) Warn(msg string, context ...interface{})  {}
func (nullLogger) Info(msg string, context ...interface{})  {}
func (nullLogger) Debug(msg string, context ...interface{}) {}

// Options wires the runtime. Transport, Subsystem and Store are required;
// every other collaborator is optional and the matching commands answer
// with a failure when it is missing.
type Options struct {
	DeviceID identity.ID
	Version  string

	Transport   Transport
	Subsystem   spooler.Subsystem
	Store       *storage.Store
	Inventory   *printers.Inventory
	Provisioner *printers.Provisioner
	Matcher     *printers.Matcher
	Pipeline    *printjob.Pipeline
	Fetcher     *printjob.Fetcher
	Updater     Updater
	Scanner     NetworkScanner
	Logs        LogSource
	Cleaner     TempCleaner
	System      SystemControl
	Metrics     *metrics.Metrics
	// DataDir is reported in the device status disk figures.
	DataDir string

	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	// QueueSize bounds commands waiting for the worker.
	QueueSize int
	// ActionDelay postpones reboot and restart_service after they are
	// acknowledged.
	ActionDelay time.Duration

	Logger Logger
}

// task is one unit of work for the command worker.
type task struct {
	name string
	run  func(ctx context.Context) []ws.Message
}

// Agent is the device runtime.
type Agent struct {
	opts    Options
	logger  Logger
	router  *router.Router
	backoff *transport.Backoff
	tasks   chan task
	now     func() time.Time
	sysinfo util.SystemInfo
	started time.Time

	mu            sync.Mutex
	lastHeartbeat time.Time
	connectedAt   time.Time
	timers        []*time.Timer
}

// New validates opts and builds the command routes.
func New(opts Options) (*Agent, error) {
	if opts.Transport == nil {
		return nil, errors.New("agent: transport is required")
	}
	if opts.Subsystem == nil {
		return nil, errors.New("agent: print subsystem is required")
	}
	if opts.Store == nil {
		return nil, errors.New("agent: store is required")
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.ActionDelay <= 0 {
		opts.ActionDelay = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = nullLogger{}
	}
	if opts.Inventory == nil {
		opts.Inventory = printers.NewInventory(printers.InventoryOptions{
			Subsystem: opts.Subsystem,
			Sources:   opts.Store,
			Logger:    opts.Logger,
		})
	}
	if opts.Provisioner == nil {
		opts.Provisioner = printers.NewProvisioner(printers.ProvisionerOptions{
			Subsystem: opts.Subsystem,
			Recorder:  opts.Store,
			Logger:    opts.Logger,
		})
	}
	if opts.Matcher == nil {
		opts.Matcher = printers.NewMatcher(opts.Subsystem, opts.Logger)
	}
	if opts.Pipeline == nil {
		opts.Pipeline = printjob.New(printjob.Options{Subsystem: opts.Subsystem, Logger: opts.Logger})
	}
	if opts.Fetcher == nil {
		opts.Fetcher = printjob.NewFetcher(0)
	}

	a := &Agent{
		opts:    opts,
		logger:  opts.Logger,
		router:  router.New(opts.Logger),
		backoff: transport.NewBackoff(opts.ReconnectBase, opts.ReconnectMax),
		tasks:   make(chan task, opts.QueueSize),
		now:     time.Now,
		sysinfo: util.GetSystemInfo(),
	}
	a.routes()
	return a, nil
}

// Router exposes the command registry.
func (a *Agent) Router() *router.Router {
	return a.router
}

// Run drives the polling loop until ctx is cancelled. The first connection
// attempt is immediate; later ones follow the backoff ladder.
func (a *Agent) Run(ctx context.Context) error {
	a.started = a.now()

	workerCtx, stopWorker := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.worker(workerCtx)
	}()
	defer func() {
		a.stopTimers()
		a.opts.Transport.Close()
		a.opts.Metrics.SetConnected(false)
		stopWorker()
		wg.Wait()
	}()

	var nextAttempt time.Time
	for {
		if ctx.Err() != nil {
			a.logger.Info("Agent stopping")
			return nil
		}

		if !a.opts.Transport.Connected() {
			if wait := nextAttempt.Sub(a.now()); wait > 0 {
				sleep(ctx, minDuration(wait, time.Second))
				continue
			}
			if err := a.connect(ctx); err != nil {
				wait := a.backoff.Next()
				nextAttempt = a.now().Add(wait)
				a.logger.Warn("Connection failed, retrying", "error", err, "retry_in", wait.String())
				continue
			}
		}

		msgs, err := a.opts.Transport.Poll(a.opts.PollInterval)
		for _, msg := range msgs {
			a.opts.Metrics.MessageIn(msg.Action())
			a.enqueue(task{name: msg.Action(), run: a.dispatcher(msg)})
		}
		if err != nil {
			if !errors.Is(err, transport.ErrNotConnected) {
				a.logger.Warn("Control channel lost", "error", err)
			}
			a.opts.Metrics.SetConnected(false)
			nextAttempt = a.now().Add(a.backoff.Next())
			continue
		}

		a.maybeHeartbeat()
	}
}

// connect opens the channel and enters the registered state: register is
// sent first, the printer announcement follows through the worker.
func (a *Agent) connect(ctx context.Context) error {
	a.logger.Info("Connecting to dispatch server")
	if err := a.opts.Transport.Connect(ctx); err != nil {
		return err
	}
	a.backoff.Reset()
	a.opts.Metrics.SetConnected(true)
	a.opts.Metrics.Reconnect()

	a.mu.Lock()
	a.connectedAt = a.now()
	a.lastHeartbeat = a.now()
	a.mu.Unlock()

	if err := a.send(a.registerMessage(ctx)); err != nil {
		a.opts.Transport.Close()
		a.opts.Metrics.SetConnected(false)
		return fmt.Errorf("register: %w", err)
	}
	a.enqueue(task{name: ws.ActionPrintersUpdate, run: func(ctx context.Context) []ws.Message {
		return []ws.Message{ws.New(ws.ActionPrintersUpdate, "printers", a.listPrinters(ctx))}
	}})
	a.logger.Info("Device registered", "device_id", a.opts.DeviceID.String())
	return nil
}

func (a *Agent) registerMessage(ctx context.Context) ws.Message {
	openid, err := a.opts.Store.OpenID(ctx)
	if err != nil {
		a.logger.Warn("Could not read bound openid", "error", err)
	}
	return ws.New(ws.ActionRegister,
		"device_id", a.opts.DeviceID.String(),
		"openid", openid,
		"name", a.sysinfo.Hostname,
		"hostname", a.sysinfo.Hostname,
		"arch", runtime.GOARCH,
		"version", a.opts.Version,
		"os_info", a.sysinfo.String(),
		"ip_address", util.LocalIP(),
	)
}

func (a *Agent) maybeHeartbeat() {
	a.mu.Lock()
	due := a.now().Sub(a.lastHeartbeat) >= a.opts.HeartbeatInterval
	if due {
		a.lastHeartbeat = a.now()
	}
	a.mu.Unlock()
	if !due {
		return
	}
	if err := a.send(ws.New(ws.ActionHeartbeat, "device_id", a.opts.DeviceID.String())); err == nil {
		a.opts.Metrics.Heartbeat()
	}
}

func (a *Agent) send(msg ws.Message) error {
	if err := a.opts.Transport.Send(msg); err != nil {
		a.logger.Debug("Send failed", "action", msg.Action(), "error", err)
		return err
	}
	a.opts.Metrics.MessageOut(msg.Action())
	return nil
}

// enqueue hands t to the worker without blocking the loop.
func (a *Agent) enqueue(t task) {
	select {
	case a.tasks <- t:
		a.opts.Metrics.SetQueueDepth(len(a.tasks))
	default:
		a.logger.Warn("Command queue full, dropping command", "action", t.name)
		a.opts.Metrics.ProtocolError("queue_full")
	}
}

func (a *Agent) dispatcher(msg ws.Message) func(ctx context.Context) []ws.Message {
	return func(ctx context.Context) []ws.Message {
		out, handled := a.router.Dispatch(ctx, msg)
		if !handled {
			a.opts.Metrics.ProtocolError("unknown_action")
		}
		return out
	}
}

// worker runs tasks strictly one at a time.
func (a *Agent) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-a.tasks:
			a.opts.Metrics.SetQueueDepth(len(a.tasks))
			a.execute(ctx, t)
		}
	}
}

func (a *Agent) execute(ctx context.Context, t task) {
	start := a.now()
	ok := true
	defer func() {
		if r := recover(); r != nil {
			ok = false
			a.logger.Error("Command handler panicked", "action", t.name, "panic", fmt.Sprint(r))
		}
		a.opts.Metrics.Command(t.name, ok, time.Since(start))
	}()

	for _, out := range t.run(ctx) {
		if out.Has("success") && !out.Bool("success") {
			ok = false
		}
		a.send(out)
	}
}

// after runs fn once delay has passed unless the agent stops first.
func (a *Agent) after(delay time.Duration, fn func()) {
	a.mu.Lock()
	a.timers = append(a.timers, time.AfterFunc(delay, fn))
	a.mu.Unlock()
}

func (a *Agent) stopTimers() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.timers {
		t.Stop()
	}
	a.timers = nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
