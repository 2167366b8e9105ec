package app

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/roman-kulish/ground-station/internal/storage"
)

func Run(ctx context.Context, config *Config, out io.Writer, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	if config.List {
		return listSessions(ctx, store, config, out)
	}

	track, err := readTrack(ctx, store, config, logger)
	if err != nil {
		return err
	}

	renderer := NewTrackRenderer(RenderConfig{
		Width:         config.Width,
		Location:      config.TimeZone,
		ColorTheme:    config.Theme,
		ColorBy:       config.ColorBy,
		NoAnnotations: config.NoAnnotations,
	})

	img, err := renderer.Render(track)
	if err != nil {
		return fmt.Errorf("rendering track: %w", err)
	}

	logger.Info("writing flight map",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.String("colorBy", string(config.ColorBy)),
			slog.Int("width", img.Bounds().Dx()),
			slog.Int("height", img.Bounds().Dy()),
		))

	return writeImage(config.OutputFile, config.Format, img)
}

func listSessions(ctx context.Context, store *storage.SqliteStore, config *Config, out io.Writer) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("reading sessions: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTART\tEND\tVEHICLE\tLINK")
	for _, s := range sessions {
		end := "-"
		if s.EndTime != nil {
			end = s.EndTime.In(config.TimeZone).Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.StartTime.In(config.TimeZone).Format(time.DateTime), end, s.VehicleType, s.Connection)
	}
	return w.Flush()
}

func readTrack(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*TrackData, error) {
	var opts []storage.ReaderOption
	var filters []any
	switch {
	case config.StartTime != nil && config.EndTime != nil:
		opts = append(opts, storage.WithTimeRange(*config.StartTime, *config.EndTime))

		filters = append(filters,
			slog.String("startTime", config.StartTime.UTC().Format(time.DateTime)),
			slog.String("endTime", config.EndTime.UTC().Format(time.DateTime)))

	case config.StartTime != nil:
		opts = append(opts, storage.WithStartTime(*config.StartTime))
		filters = append(filters, slog.String("startTime", config.StartTime.UTC().Format(time.DateTime)))

	case config.EndTime != nil:
		opts = append(opts, storage.WithEndTime(*config.EndTime))
		filters = append(filters, slog.String("endTime", config.EndTime.UTC().Format(time.DateTime)))
	}

	if config.Verbose {
		logger.Info("reader configuration", append(filters, slog.String("session", config.SessionID))...)
	}

	iter, err := store.ReadTrack(ctx, config.SessionID, opts...)
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", config.SessionID, err)
	}
	defer iter.Close()

	track := NewTrackData(iter.Session())
	for iter.Next(ctx) {
		track.Update(iter.Current())
	}
	if err = iter.Error(); err != nil {
		return nil, fmt.Errorf("reading session %s: %w", config.SessionID, err)
	}

	if len(track.Points) == 0 {
		return nil, fmt.Errorf("session %s: %w", config.SessionID, ErrEmptyTrack)
	}

	logger.Info("finished reading track",
		slog.Group("stats",
			slog.String("startTime", track.TimestampStart.In(config.TimeZone).Format(time.DateTime)),
			slog.String("endTime", track.TimestampEnd.In(config.TimeZone).Format(time.DateTime)),
			slog.Int("points", len(track.Points)),
			slog.Int("skipped", track.Skipped),
			slog.String("distance", fmt.Sprintf("%0.1fm", track.Distance)),
			slog.String("altitude", fmt.Sprintf("%0.1fm - %0.1fm", track.AltitudeMin, track.AltitudeMax)),
		))

	return track, nil
}

func writeImage(path string, format ImageFormat, img image.Image) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing output file: %w", cErr)
		}
	}()

	switch format {
	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{Quality: 98})
	default:
		err = png.Encode(out, img)
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", format, err)
	}
	return nil
}
