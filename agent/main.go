package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/kardianos/service"
	flag "github.com/spf13/pflag"

	"github.com/tzi-shue/print-service-deploy/agent/agent"
	"github.com/tzi-shue/print-service-deploy/agent/autoupdate"
	"github.com/tzi-shue/print-service-deploy/agent/discovery"
	"github.com/tzi-shue/print-service-deploy/agent/housekeeping"
	"github.com/tzi-shue/print-service-deploy/agent/identity"
	"github.com/tzi-shue/print-service-deploy/agent/metrics"
	"github.com/tzi-shue/print-service-deploy/agent/printers"
	"github.com/tzi-shue/print-service-deploy/agent/printjob"
	"github.com/tzi-shue/print-service-deploy/agent/spooler"
	"github.com/tzi-shue/print-service-deploy/agent/storage"
	"github.com/tzi-shue/print-service-deploy/agent/transport"
	"github.com/tzi-shue/print-service-deploy/common/config"
	"github.com/tzi-shue/print-service-deploy/common/logger"
)

// Set at build time with -ldflags "-X main.Version=..."
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.StringP("config", "c", "config.toml", "Configuration file path")
	generateConfig := flag.Bool("generate-config", false, "Generate default config file and exit")
	serviceCmd := flag.String("service", "", "Service control: install, uninstall, start, stop, restart, run")
	showVersion := flag.BoolP("version", "v", false, "Show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Print Agent %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		fmt.Printf("Go Version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return
	}

	if *generateConfig {
		if err := WriteDefaultAgentConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default configuration at %s\n", *configPath)
		return
	}

	if *serviceCmd != "" {
		if err := handleServiceCommand(*serviceCmd, *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	if !service.Interactive() {
		if err := handleServiceCommand("run", *configPath); err != nil {
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runAgent(ctx, *configPath, false); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// resolveConfig finds and loads the configuration. A missing file yields
// the defaults with environment overrides applied.
func resolveConfig(configFlag string) (*AgentConfig, string) {
	candidates := []string{config.ResolveConfigPath("AGENT", configFlag)}
	candidates = append(candidates, config.GetConfigSearchPaths("config.toml")...)
	for _, path := range candidates {
		if path == "" {
			continue
		}
		if cfg, err := LoadAgentConfig(path); err == nil {
			return cfg, path
		}
	}
	cfg := DefaultAgentConfig()
	ApplyEnvOverrides(cfg)
	return cfg, ""
}

// runAgent wires every component and runs until ctx is cancelled.
func runAgent(ctx context.Context, configFlag string, isService bool) error {
	envFile, envErr := config.LoadEnvFile("")
	cfg, cfgPath := resolveConfig(configFlag)

	logDir := cfg.Logging.Dir
	if logDir == "" {
		dir, err := config.GetLogDirectory(isService)
		if err != nil {
			return err
		}
		logDir = dir
	}
	appLogger := logger.New(logger.LevelFromString(cfg.Logging.Level), logDir, 1000)
	appLogger.SetBaseName("print-agent")
	appLogger.SetConsoleOutput(!isService)
	appLogger.SetRotationPolicy(logger.RotationPolicy{
		Enabled:    true,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		MaxFiles:   30,
	})
	defer appLogger.Close()

	appLogger.Info("Print agent starting",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
		"service", isService)
	if cfgPath != "" {
		appLogger.Info("Loaded configuration", "path", cfgPath)
	} else {
		appLogger.Warn("No config.toml found, using defaults")
	}
	if envErr != nil {
		appLogger.Warn("Failed to load env file", "error", envErr)
	} else if envFile != "" {
		appLogger.Info("Loaded env file", "path", envFile)
	}

	dataDir, err := config.GetDataDirectory(isService)
	if err != nil {
		appLogger.Error("Could not get data directory", "error", err)
		return err
	}

	idPath := cfg.Identity.Path
	if idPath == "" {
		idPath = filepath.Join(dataDir, "device_id")
	}
	deviceID, created, err := identity.LoadOrCreate(identity.Options{Path: idPath, MachineIDPath: cfg.Identity.MachineIDPath})
	if err != nil {
		appLogger.Error("Failed to establish device identity", "error", err, "path", idPath)
		return err
	}
	appLogger.Info("Device identity", "device_id", deviceID.String(), "created", created)

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "agent.db")
	} else if fi, err := os.Stat(dbPath); err == nil && fi.IsDir() {
		dbPath = filepath.Join(dbPath, "agent.db")
	}
	store, err := storage.Open(dbPath, appLogger)
	if err != nil {
		appLogger.Error("Failed to open agent database", "error", err, "path", dbPath)
		return err
	}
	defer store.Close()

	m := metrics.New()

	cups := spooler.NewCUPS(spooler.CUPSConfig{
		PPDDir:         cfg.CUPS.PPDDir,
		CommandTimeout: seconds(cfg.CUPS.CommandTimeoutSeconds, 10*time.Second),
		InstallTimeout: seconds(cfg.CUPS.InstallTimeoutSeconds, 60*time.Second),
	}, nil, appLogger)

	invOpts := printers.InventoryOptions{Subsystem: cups, Sources: store, Logger: appLogger}
	if cfg.SNMP.Enabled {
		invOpts.Prober = printers.NewSNMPProber(cfg.SNMP.Community, time.Duration(cfg.SNMP.TimeoutMs)*time.Millisecond, appLogger)
	}

	pipeline := printjob.New(printjob.Options{
		Subsystem:      cups,
		TempDir:        cfg.Print.TempDir,
		Media:          cfg.Print.Media,
		ConvertTimeout: seconds(cfg.Print.ConvertTimeoutSeconds, 60*time.Second),
		Logger:         appLogger,
	})

	restart := serviceRestarter(cfg.Service.Name, cfgPath)

	hk := housekeeping.New(housekeeping.Options{
		Interval:      time.Duration(cfg.Housekeeping.IntervalMinutes) * time.Minute,
		TempDirs:      []string{pipeline.TempDir()},
		TempMaxAge:    time.Duration(cfg.Housekeeping.TempMaxAgeMinutes) * time.Minute,
		Logs:          appLogger,
		History:       store,
		HistoryMaxAge: time.Duration(cfg.Housekeeping.HistoryDays) * 24 * time.Hour,
		DBPath:        dbPath,
		KeepBackups:   cfg.Housekeeping.KeepBackups,
		CleanBackups:  storage.CleanupOldBackups,
		Logger:        appLogger,
	})
	if err := hk.Start(ctx); err != nil {
		appLogger.Warn("Housekeeping not scheduled", "error", err)
	}
	defer hk.Stop()

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen); err != nil {
				appLogger.Warn("Metrics listener stopped", "error", err, "listen", cfg.Metrics.Listen)
			}
		}()
	}

	if cfgPath != "" {
		go func() {
			if err := watchConfig(ctx, cfgPath, appLogger, applyLogLevel(appLogger)); err != nil {
				appLogger.Warn("Config hot reload disabled", "error", err)
			}
		}()
	}

	client, err := transport.NewClient(transport.Options{
		URL:             cfg.Server.URL,
		DialTimeout:     seconds(cfg.Server.DialTimeoutSeconds, 10*time.Second),
		MaxMessageBytes: cfg.Server.MaxMessageMB << 20,
		Logger:          appLogger,
	})
	if err != nil {
		appLogger.Error("Invalid server URL", "error", err, "url", cfg.Server.URL)
		return err
	}

	provisioner := printers.NewProvisioner(printers.ProvisionerOptions{
		Subsystem: cups,
		Recorder:  store,
		WorkDir:   filepath.Join(dataDir, "ppd"),
		Logger:    appLogger,
	})
	scanner := discovery.New(discovery.Options{
		Services: cfg.Discovery.Services,
		Timeout:  seconds(cfg.Discovery.TimeoutSeconds, 5*time.Second),
		Logger:   appLogger,
	})
	system := agent.CommandControl{
		ServiceName: cfg.Service.Name,
		Restart:     restartOrExit(restart, appLogger),
	}

	opts := agent.Options{
		DeviceID:          deviceID,
		Version:           Version,
		Transport:         client,
		Subsystem:         cups,
		Store:             store,
		Inventory:         printers.NewInventory(invOpts),
		Provisioner:       provisioner,
		Matcher:           printers.NewMatcher(cups, appLogger),
		Pipeline:          pipeline,
		Fetcher:           printjob.NewFetcher(seconds(cfg.Print.FetchTimeoutSeconds, 60*time.Second)),
		Scanner:           scanner,
		Logs:              appLogger,
		Cleaner:           hk,
		System:            system,
		Metrics:           m,
		DataDir:           dataDir,
		HeartbeatInterval: seconds(cfg.Server.HeartbeatIntervalSeconds, 30*time.Second),
		PollInterval:      time.Duration(cfg.Server.PollIntervalMs) * time.Millisecond,
		ReconnectBase:     seconds(cfg.Server.ReconnectIntervalSeconds, 5*time.Second),
		ReconnectMax:      seconds(cfg.Server.MaxReconnectIntervalSeconds, 60*time.Second),
		Logger:            appLogger,
	}

	updater, err := autoupdate.NewManager(autoupdate.Options{
		Log:            appLogger,
		CurrentVersion: Version,
		BuildTime:      BuildTime,
		Restarter:      autoupdate.RestartFunc(restartOrExit(restart, appLogger)),
	})
	if err != nil {
		appLogger.Warn("Self-update disabled", "error", err)
	} else {
		defer updater.Stop()
		opts.Updater = updater
	}

	a, err := agent.New(opts)
	if err != nil {
		return err
	}
	appLogger.Info("Connecting to dispatch server", "url", cfg.Server.URL)
	err = a.Run(ctx)
	appLogger.Info("Print agent stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// restartOrExit restarts through the service manager. Interactive runs
// have none, so the process exits and whatever launched it starts the new
// binary.
func restartOrExit(restart func() error, log *logger.Logger) func() error {
	return func() error {
		err := restart()
		if err == nil {
			return nil
		}
		log.Warn("Service restart unavailable, exiting", "error", err)
		log.Close()
		os.Exit(0)
		return nil
	}
}
