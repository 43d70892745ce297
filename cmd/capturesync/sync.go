package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vbonduro/capturesync/internal/app"
	"github.com/vbonduro/capturesync/internal/capture"
	"github.com/vbonduro/capturesync/internal/config"
	"github.com/vbonduro/capturesync/internal/db"
	"github.com/vbonduro/capturesync/internal/device"
	"github.com/vbonduro/capturesync/internal/domain"
	"github.com/vbonduro/capturesync/internal/logging"
	"github.com/vbonduro/capturesync/internal/metrics"
	"github.com/vbonduro/capturesync/internal/notify"
	"github.com/vbonduro/capturesync/internal/notify/expo"
	"github.com/vbonduro/capturesync/internal/objectstore/local"
	"github.com/vbonduro/capturesync/internal/permission"
	"github.com/vbonduro/capturesync/internal/service"
	"github.com/vbonduro/capturesync/internal/store"
)

// registrationWait bounds how long a run waits for push registration before
// syncing without a token.
const registrationWait = 5 * time.Second

type syncFlags struct {
	camera     string
	gallery    string
	lat        float64
	lon        float64
	noLocation bool
	token      string
}

func newSyncCmd() *cobra.Command {
	var f syncFlags
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Capture inputs and sync a record",
		Long: `Capture an optional photo and location, then sync one record.

Examples:
  capturesync sync --camera ./shot.jpg --lat 1.0 --lon 2.0
  capturesync sync --gallery ./holiday.png --no-location
  capturesync sync                           # identity fields only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if f.token != "" {
				cfg.DevicePushToken = f.token
			}
			var coords *domain.GeoCoordinates
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
				coords = &domain.GeoCoordinates{Latitude: f.lat, Longitude: f.lon}
			}
			metricsOut, _ := cmd.Flags().GetString("metrics-out")
			return runSync(cmd, cfg, f, coords, metricsOut)
		},
	}
	cmd.Flags().StringVar(&f.camera, "camera", "", "image file returned by the camera")
	cmd.Flags().StringVar(&f.gallery, "gallery", "", "image file picked from the library")
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "latitude reported by the location provider")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "longitude reported by the location provider")
	cmd.Flags().BoolVar(&f.noLocation, "no-location", false, "skip location capture")
	cmd.Flags().StringVar(&f.token, "token", "", "device push token (overrides DEVICE_PUSH_TOKEN)")
	cmd.MarkFlagsMutuallyExclusive("camera", "gallery")
	return cmd
}

func runSync(cmd *cobra.Command, cfg *config.Config, f syncFlags, coords *domain.GeoCoordinates, metricsOut string) error {
	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer cleanup()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	photoPath := f.camera
	if photoPath == "" {
		photoPath = f.gallery
	}
	ctrl, registrar, err := newController(cfg, database, m, photoPath, coords, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ctrl.Start(ctx)
	select {
	case <-registrar.Ready():
	case <-time.After(registrationWait):
		logger.Warn("push registration still pending, syncing without token")
	}

	switch {
	case f.camera != "":
		_ = ctrl.TakePhoto(ctx)
	case f.gallery != "":
		_ = ctrl.PickPhoto(ctx)
	}
	if !f.noLocation {
		_ = ctrl.CaptureLocation(ctx)
	}

	id, err := ctrl.Save(ctx)
	if metricsOut != "" {
		if werr := writeMetrics(reg, metricsOut); werr != nil {
			logger.Error("failed to write metrics", "error", werr)
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func newController(
	cfg *config.Config,
	database *sql.DB,
	m *metrics.Metrics,
	photoPath string,
	coords *domain.GeoCoordinates,
	logger *slog.Logger,
) (*app.Controller, *notify.Registrar, error) {
	granted, err := device.ParseCapabilities(cfg.DeviceGrants)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid DEVICE_GRANTS: %w", err)
	}
	permanent, err := device.ParseCapabilities(cfg.DenyPermanent)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid DEVICE_DENY_PERMANENT: %w", err)
	}

	objects, err := local.NewLocalObjectStore(cfg.ObjectPath, cfg.ObjectBaseURL)
	if err != nil {
		logger.Error("failed to initialize object store", "error", err)
		return nil, nil, err
	}

	gate := permission.NewGate(device.NewPermissions(granted, permanent), permission.Options{
		LegacyLocation: cfg.LocationLegacy,
		Recorder:       m,
	}, logger)
	photos := capture.NewPhotoCapture(&device.FilePicker{Path: photoPath}, gate, m, logger)
	location := capture.NewLocationCapture(&device.FixedLocator{Coordinates: coords}, gate, m, logger)

	registrar := notify.NewRegistrar(device.StaticToken(cfg.DevicePushToken), expo.NewSender(cfg.PushURL), cfg.PushTitle, m, logger)

	svc := service.NewSyncService(
		store.NewDocumentStore(database),
		objects,
		&device.Fetcher{},
		registrar,
		m,
		service.Options{
			Identity: domain.Identity{
				First: cfg.RecordFirst,
				Last:  cfg.RecordLast,
				Born:  cfg.RecordBorn,
			},
			Namespace:        cfg.ObjectNamespace,
			ForegroundWindow: cfg.ForegroundWindow,
		},
		logger,
	)

	return app.NewController(photos, location, registrar, svc, logger), registrar, nil
}
