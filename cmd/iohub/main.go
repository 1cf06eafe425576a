package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/iohub/internal/hubfs"
	"github.com/marmos91/iohub/internal/logger"
	"github.com/marmos91/iohub/internal/throttle"
	"github.com/marmos91/iohub/pkg/config"
)

func main() {
	// Configuration flags
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	initConfig := flag.Bool("init-config", false, "Write a starter config file and exit")
	force := flag.Bool("force", false, "Overwrite an existing config file with -init-config")

	// Overrides for the most common settings
	mountpoint := flag.String("mountpoint", "", "Mount the filesystem here (overrides config)")
	root := flag.String("root", "", "Backing directory to forward operations to (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides config)")
	debug := flag.Bool("debug", false, "Enable FUSE protocol tracing")

	flag.Parse()

	if *initConfig {
		path, err := config.InitConfig(*force)
		if err != nil {
			log.Fatalf("Failed to initialize config: %v", err)
		}
		fmt.Printf("Config file written to %s\n", path)
		fmt.Println("Edit the mountpoint and root before starting the daemon.")
		return
	}

	// Load configuration (file, environment, defaults), letting the
	// flags override whatever the other sources produced
	cfg, err := config.Load(*configPath, func(cfg *config.Config) {
		if *mountpoint != "" {
			cfg.Mount.Mountpoint = *mountpoint
		}
		if *root != "" {
			cfg.Mount.Root = *root
		}
		if *logLevel != "" {
			cfg.Logging.Level = *logLevel
		}
		if *debug {
			cfg.Mount.Debug = true
		}
	})
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Configure logger
	logger.SetLevel(cfg.Logging.Level)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure log output: %v", err)
	}

	fmt.Println("iohub - throttled passthrough filesystem")
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Backing root: %s", cfg.Mount.Root)
	logger.Info("Throttle period: %v (%d configured identities)",
		cfg.Throttle.Period, len(cfg.Throttle.Identities))

	// Build the quota table from the configured allocations
	quotas, err := throttle.NewTable(cfg.IdentityConfigs(),
		throttle.WithPeriod(cfg.Throttle.Period))
	if err != nil {
		log.Fatalf("Failed to build quota table: %v", err)
	}

	// File modes and paths must pass through to the backing tree
	// unaltered, and the daemon must not pin its starting directory.
	syscall.Umask(0)
	if err := os.Chdir("/"); err != nil {
		log.Fatalf("Failed to chdir to /: %v", err)
	}

	server, err := hubfs.Mount(hubfs.Options{
		Mountpoint:           cfg.Mount.Mountpoint,
		Root:                 cfg.Mount.Root,
		Quotas:               quotas,
		MetadataOpsPerSecond: cfg.Throttle.MetadataOpsPerSecond,
		AllowOther:           cfg.Mount.AllowOther,
		Debug:                cfg.Mount.Debug,
	})
	if err != nil {
		log.Fatalf("Failed to mount: %v", err)
	}

	// Unmount on interrupt so the kernel releases the mountpoint
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received %v, unmounting...", sig)
		if err := server.Unmount(); err != nil {
			logger.Error("Unmount failed: %v (is the mountpoint busy?)", err)
		}
		// If the kernel never releases the mount, stop waiting
		time.AfterFunc(cfg.ShutdownTimeout(), func() {
			logger.Error("Unmount did not complete within %v, exiting", cfg.ShutdownTimeout())
			os.Exit(1)
		})
	}()

	logger.Info("Filesystem mounted at %s. Press Ctrl+C to stop.", cfg.Mount.Mountpoint)
	server.Wait()
	logger.Info("Filesystem unmounted, shutting down")
}
