package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hybridgroup/mjpeg"

	"github.com/roman-kulish/ground-station/internal/camera"
	"github.com/roman-kulish/ground-station/internal/console"
	"github.com/roman-kulish/ground-station/internal/journal"
	"github.com/roman-kulish/ground-station/internal/mavlink"
	"github.com/roman-kulish/ground-station/internal/overlay"
	"github.com/roman-kulish/ground-station/internal/serialport"
	"github.com/roman-kulish/ground-station/internal/storage"
	"github.com/roman-kulish/ground-station/internal/uav"
)

const (
	storageDir = "data"
)

// OpenJournal opens the rotating log described by config. A relative directory
// is resolved against the working directory.
func OpenJournal(config *JournalConfig) (*journal.Journal, error) {
	dir, err := resolveDir(config.Directory)
	if err != nil {
		return nil, err
	}

	j, err := journal.New(dir,
		journal.WithFileName(config.FileName),
		journal.WithMaxSize(int64(config.MaxSize)),
		journal.WithPanel(journal.NewPanel(config.PanelSize)))
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return j, nil
}

func Run(ctx context.Context, config *Config, logger *slog.Logger, j *journal.Journal) error {
	var store *storage.SqliteStore
	if config.Storage.Enabled {
		var err error
		if store, err = createStorage(&config.Storage); err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		defer store.Close()
	}

	vehicle := createVehicle(&config.Vehicle, logger)
	defer func() {
		if err := vehicle.Disconnect(); err != nil {
			logger.Warn(err.Error())
		}
	}()

	stream := mjpeg.NewStream()
	cameras, closeCameras, err := createCameras(&config.Camera, vehicle, stream, logger)
	if err != nil {
		return fmt.Errorf("failed to create cameras: %w", err)
	}
	defer closeCameras()

	server := console.New(console.Config{
		Host:              config.Console.Host,
		Port:              config.Console.Port,
		TelemetryInterval: time.Duration(config.Console.TelemetryInterval),
		ShutdownTimeout:   time.Duration(config.Console.ShutdownTimeout),
		AllowedOrigins:    config.Console.AllowedOrigins,
	}, vehicle, cameras, serialport.SystemLister{},
		console.WithLogger(logger),
		console.WithStream(stream),
		console.WithPanel(j.Panel()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	if store != nil {
		recorder := NewRecorder(store, vehicle,
			WithRecorderLogger(logger),
			WithPanel(j.Panel()),
			WithSampleInterval(time.Duration(config.Storage.SampleInterval)),
			WithMaxBatchSize(config.Storage.MaxBatchSize),
			WithSessionConfig(config.Vehicle))

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = recorder.Run(ctx)
		}()
	}

	if config.Vehicle.Port != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := vehicle.Connect(ctx, config.Vehicle.Port, config.Vehicle.BaudRate); err != nil {
				logger.Error(fmt.Sprintf("connecting to vehicle: %s", err))
			}
		}()
	}

	if config.Camera.Device != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cameras.Connect(ctx, config.Camera.Device); err != nil {
				logger.Error(fmt.Sprintf("connecting camera: %s", err))
			}
		}()
	}

	err = server.Start(ctx)
	cancel()
	return err
}

func createVehicle(config *VehicleConfig, logger *slog.Logger) *uav.Manager {
	return uav.NewManager(
		uav.WithLogger(logger),
		uav.WithConnectTimeout(time.Duration(config.ConnectTimeout)),
		uav.WithTakeoffAltitude(config.TakeoffAltitude),
		uav.WithCommandOptions(mavlink.WithRetries(time.Duration(config.CommandTimeout), config.CommandRetries)),
		uav.WithDialer(func(url string) (uav.Link, error) {
			link, err := mavlink.Dial(url,
				mavlink.WithLogger(logger),
				mavlink.WithSystemID(config.SystemID, config.ComponentID),
				mavlink.WithHeartbeatTimeout(time.Duration(config.HeartbeatTimeout)))
			if err != nil {
				return nil, err
			}
			return link, nil
		}))
}

// createCameras builds the camera manager feeding stream. With the overlay
// enabled every frame carries the vehicle telemetry.
func createCameras(config *CameraConfig, vehicle *uav.Manager, stream *mjpeg.Stream, logger *slog.Logger) (*camera.Manager, func(), error) {
	options := []func(*camera.Manager){
		camera.WithLogger(logger),
		camera.WithFormat(config.Format()),
	}

	var annotator *overlay.Annotator
	if config.Overlay {
		var err error
		if annotator, err = overlay.NewAnnotator(overlay.WithFontSize(config.FontSize)); err != nil {
			return nil, nil, fmt.Errorf("creating overlay: %w", err)
		}
		options = append(options, camera.WithFrameHook(overlay.OSD(vehicle, annotator, config.Quality)))
	}

	cameras := camera.NewManager(camera.NewBackend(logger), stream, options...)
	closeFn := func() {
		if err := cameras.Disconnect(); err != nil {
			logger.Warn(err.Error())
		}
		if annotator != nil {
			_ = annotator.Close()
		}
	}

	return cameras, closeFn, nil
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	dir := config.DataDirectory
	if dir == "" {
		dir = storageDir
	}

	dbPath, err := resolveDir(dir)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage directory '%s' does not exist: %w", dbPath, err)
		}
		return nil, fmt.Errorf("checking storage directory '%s': %w", dbPath, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dbPath)
	}

	dbPath = filepath.Join(dbPath, fmt.Sprintf("flight_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	store := storage.NewSqliteStore(dbPath)
	if err = store.Init(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating storage: %w", err)
	}

	return store, nil
}

func resolveDir(dir string) (string, error) {
	if filepath.IsAbs(dir) {
		return dir, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	return filepath.Join(wd, dir), nil
}
