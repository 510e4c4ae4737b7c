// Package server wires the backup subsystem into an HTTP API and
// drives the periodic jobs: the schedule scan, cloud sync and
// retention cleanup.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"dbvault/internal/config"
	"dbvault/internal/logging"
)

// nativeRunner is the slice of the native dump adapter the server
// schedules.
type nativeRunner interface {
	RunScheduled(ctx context.Context, now time.Time) error
}

// Server hosts the HTTP API and the background job tickers.
type Server struct {
	echo    *echo.Echo
	cron    *cron.Cron
	handler *Handler
	native  nativeRunner
	cfg     *config.Config
	logger  *logging.Logger
}

func New(cfg *config.Config, h *Handler, native nativeRunner, logger *logging.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	e.Use(middleware.RequestID())
	e.Use(RequestLogger(logger))
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		cron:    cron.New(),
		handler: h,
		native:  native,
		cfg:     cfg,
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	h := s.handler

	e.GET("/healthz", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")

	api.POST("/backups", h.CreateBackup)
	api.GET("/backups", h.ListBackups)
	api.GET("/backups/:id", h.GetBackup)
	api.GET("/backups/:id/download", h.DownloadBackup)
	api.POST("/backups/:id/sync", h.SyncBackup)
	api.DELETE("/backups/:id", h.DeleteBackup)

	api.POST("/restores", h.CreateRestore)
	api.GET("/restores", h.ListRestores)
	api.GET("/restores/:id", h.GetRestore)

	api.POST("/schedules", h.CreateSchedule)
	api.GET("/schedules", h.ListSchedules)
	api.GET("/schedules/:id", h.GetSchedule)
	api.PUT("/schedules/:id", h.UpdateSchedule)
	api.DELETE("/schedules/:id", h.DeleteSchedule)
	api.POST("/schedules/run", h.RunSchedules)
	api.POST("/schedules/:id/run", h.RunSchedule)

	api.POST("/cleanup", h.RunCleanup)

	api.GET("/cloud/test", h.CloudTest)
	api.POST("/cloud/sync", h.CloudSync)
	api.GET("/cloud/objects", h.CloudList)

	api.GET("/status", s.Status)
}

// Status reports which subsystems are running and how the background
// loops are configured.
func (s *Server) Status(c echo.Context) error {
	status := map[string]interface{}{
		"time":             time.Now().UTC(),
		"scan_interval":    s.cfg.Backup.ScanInterval.String(),
		"cleanup_schedule": s.cfg.Backup.CleanupSchedule,
		"cloud": map[string]interface{}{
			"enabled":  s.cfg.Cloud.Enabled,
			"provider": s.cfg.Cloud.Provider,
		},
		"native": map[string]interface{}{
			"enabled":    s.cfg.Native.Enabled,
			"daily_time": s.cfg.Native.DailyTime,
		},
	}
	return c.JSON(http.StatusOK, status)
}

// startJobs registers the periodic tickers. Each job takes its own
// overlap guard inside the component it calls.
func (s *Server) startJobs() error {
	scanSpec := "@every " + s.cfg.Backup.ScanInterval.String()
	if _, err := s.cron.AddFunc(scanSpec, func() {
		if err := s.handler.scheduler.RunDue(context.Background(), time.Now().UTC()); err != nil {
			s.logger.Errorf("schedule scan failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to register schedule scan: %w", err)
	}

	if s.handler.syncer != nil {
		syncSpec := "@every " + s.cfg.Cloud.SyncInterval.String()
		if _, err := s.cron.AddFunc(syncSpec, func() {
			if _, err := s.handler.syncer.SyncPending(context.Background()); err != nil {
				s.logger.Errorf("cloud sync failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("failed to register cloud sync: %w", err)
		}
	}

	if _, err := s.cron.AddFunc(s.cfg.Backup.CleanupSchedule, func() {
		if _, err := s.handler.retention.Cleanup(context.Background(), time.Now().UTC()); err != nil {
			s.logger.Errorf("retention cleanup failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to register cleanup: %w", err)
	}

	if s.native != nil && s.cfg.Native.Enabled {
		if _, err := s.cron.AddFunc(dailyCronSpec(s.cfg.Native.DailyTime), func() {
			if err := s.native.RunScheduled(context.Background(), time.Now().UTC()); err != nil {
				s.logger.Errorf("native dump failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("failed to register native dump: %w", err)
		}
	}

	s.cron.Start()

	// Catch up on schedules that became due while the process was
	// down.
	go func() {
		if err := s.handler.scheduler.RunDue(context.Background(), time.Now().UTC()); err != nil {
			s.logger.Errorf("startup schedule scan failed: %v", err)
		}
	}()
	return nil
}

// dailyCronSpec turns an HH:MM time of day into a daily cron entry,
// falling back to 02:00 when the value does not parse.
func dailyCronSpec(timeOfDay string) string {
	parts := strings.SplitN(timeOfDay, ":", 2)
	if len(parts) == 2 {
		hour, herr := strconv.Atoi(parts[0])
		minute, merr := strconv.Atoi(parts[1])
		if herr == nil && merr == nil && hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59 {
			return fmt.Sprintf("%d %d * * *", minute, hour)
		}
	}
	return "0 2 * * *"
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	if err := s.startJobs(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.WithField("addr", addr).Info("HTTP server listening")

	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the tickers and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	return s.echo.Shutdown(ctx)
}
