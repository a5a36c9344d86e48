package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Mansoor88-6/activity-agent/internal/client"
	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/config"
	"Mansoor88-6/activity-agent/internal/database"
	"Mansoor88-6/activity-agent/internal/device"
	"Mansoor88-6/activity-agent/internal/handler"
	"Mansoor88-6/activity-agent/internal/logger"
	"Mansoor88-6/activity-agent/internal/platform"
	"Mansoor88-6/activity-agent/internal/repository"
	"Mansoor88-6/activity-agent/internal/router"
	"Mansoor88-6/activity-agent/internal/server"
	"Mansoor88-6/activity-agent/internal/service"

	"go.uber.org/zap"
)

// shutdownTimeout bounds the final upload on exit
const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config/local.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting activity agent",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
	)

	db, err := database.New(cfg.StoragePath, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	platformInstance, err := platform.NewPlatform()
	if err != nil {
		log.Fatal("Failed to initialize platform", zap.Error(err))
	}

	deviceManager := device.NewDeviceManager(repository.NewStateRepository(db.DB), log.Logger)
	deviceID, err := deviceManager.Resolve(cfg.Device.ID)
	if err != nil {
		log.Fatal("Failed to resolve device ID", zap.Error(err))
	}

	apiClient := client.NewAPIClient(
		cfg.Backend.BaseURL,
		cfg.Backend.APIKey,
		time.Duration(cfg.Backend.Timeout)*time.Second,
		log.Logger,
	)
	apiClient.SetDeviceID(deviceID)
	if cfg.Backend.DeviceToken != "" {
		apiClient.SetDeviceToken(cfg.Backend.DeviceToken)
	}

	clk := clock.Real()
	notifier := service.NewLogNotifier(log.Logger)
	trackingService := service.NewTrackingService(*cfg, platformInstance, db.DB, apiClient, notifier, clk, log.Logger)
	trackingService.Start()

	resume(trackingService, cfg, log.Logger)

	identity := trackingService.Identity()
	channel := client.NewCommandChannel(cfg.Backend.WSURL, identity.UserID, log.Logger)
	channel.SetDeviceID(deviceID)
	channel.SetToken(cfg.Backend.DeviceToken)

	commandService := service.NewCommandService(
		channel,
		trackingService,
		notifier,
		clk,
		time.Duration(cfg.Tracking.StatusInterval)*time.Second,
		shutdownTimeout,
		log.Logger,
	)
	channel.OnConnect(commandService.PushStatus)
	commandService.Start()

	var agentServer *server.AgentServer
	if cfg.Server.Enabled {
		agentHandler := handler.NewAgentHandler(trackingService, commandService, apiClient, clk, log.Logger)
		agentServer = server.NewAgentServer(cfg.Server.Port, router.New(agentHandler, log.Logger), log.Logger)
		if err := agentServer.Start(); err != nil {
			log.Error("Local API unavailable", zap.Error(err))
			agentServer = nil
		}
	} else {
		log.Info("Local API disabled in configuration")
	}

	log.Info("Activity agent started successfully",
		zap.String("device_id", deviceID),
		zap.String("user_id", identity.UserID),
		zap.String("backend_url", cfg.Backend.BaseURL),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Tray.Enabled {
		runTray(trackingService, quit, log.Logger)
	} else {
		sig := <-quit
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	log.Info("Shutting down activity agent...")

	if agentServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := agentServer.Shutdown(ctx); err != nil {
			log.Warn("Local API shutdown error", zap.Error(err))
		}
		cancel()
	}

	commandService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- trackingService.Shutdown(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("Final upload failed, session kept for recovery", zap.Error(err))
		} else {
			log.Info("Tracking service stopped successfully")
		}
	case <-time.After(shutdownTimeout + time.Second):
		// Input hooks can hold the process open on Windows.
		log.Warn("Shutdown timeout reached, forcing exit")
		os.Exit(1)
	}

	log.Info("Activity agent stopped")
}

// resume continues a recovered session, or starts a fresh one when the
// configuration asks for it
func resume(ts *service.TrackingService, cfg *config.Config, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Backend.Timeout)*time.Second)
	defer cancel()

	buf, err := ts.Recover(ctx)
	if err != nil {
		logger.Error("Session recovery failed", zap.Error(err))
	}

	switch {
	case buf != nil:
		if err := ts.StartSession(&buf.State); err != nil {
			logger.Error("Failed to resume session", zap.Error(err))
			return
		}
		logger.Info("Resumed previous session",
			zap.Time("saved_at", buf.SavedAt),
			zap.Duration("working_time", buf.State.WorkingTime),
		)
	case cfg.Tracking.AutoStart && ts.Identity().UserID != "":
		if err := ts.StartSession(nil); err != nil {
			logger.Error("Failed to start session", zap.Error(err))
		}
	}
}
