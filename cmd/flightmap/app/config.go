package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"

	defaultWidth = 1024
	minWidth     = 200
	maxWidth     = 8192
)

type ImageFormat string

type Config struct {
	DBPath        string
	SessionID     string
	List          bool
	OutputFile    string
	Format        ImageFormat
	Theme         ColorTheme
	ColorBy       Metric
	Width         int
	StartTime     *time.Time
	EndTime       *time.Time
	TimeZone      *time.Location
	Verbose       bool
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func isImageFormat(s string) bool {
	_, ok := validImageFormats[ImageFormat(s)]
	return ok
}

func NewConfig() *Config {
	return &Config{
		Format:   ImagePNG,
		Theme:    ClassicTheme,
		ColorBy:  MetricAltitude,
		Width:    defaultWidth,
		TimeZone: time.Local,
	}
}

// NewConfigFromCLI parses the command line arguments, without the program name
func NewConfigFromCLI(name string, args []string, output io.Writer) (*Config, error) {
	c := NewConfig()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	var imageFormat, theme, colorBy, start, end, tz string
	fs.StringVar(&c.DBPath, "db", "", "Path to the flight recorder database file")
	fs.StringVar(&c.SessionID, "s", "", "Session ID")
	fs.BoolVar(&c.List, "list", false, "List the recorded sessions and exit")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.StringVar(&theme, "theme", string(ClassicTheme), "Track color theme. [classic, grayscale, jungle, thermal, marine]")
	fs.StringVar(&colorBy, "color-by", string(MetricAltitude), "Value the track is colored by. [altitude, speed]")
	fs.IntVar(&c.Width, "width", defaultWidth, "Width of the map area in pixels")
	fs.StringVar(&start, "start", "", "Render samples from this time (format 2006-01-02 15:04:05)")
	fs.StringVar(&end, "end", "", "Render samples until this time (format 2006-01-02 15:04:05)")
	fs.StringVar(&tz, "tz", "", "Time zone of the annotations and -start/-end, e.g. Europe/London (default local)")
	fs.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as the info bar and the legend")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)

	var err error
	if tz != "" {
		if c.TimeZone, err = time.LoadLocation(tz); err != nil {
			err = fmt.Errorf("invalid time zone: %s", tz)
		}
	}

	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}

		var t time.Time
		switch f.Name {
		case "start":
			if t, err = time.ParseInLocation(time.DateTime, start, c.TimeZone); err == nil {
				c.StartTime = &t
			}
		case "end":
			if t, err = time.ParseInLocation(time.DateTime, end, c.TimeZone); err == nil {
				c.EndTime = &t
			}
		}
	})

	if err == nil && c.DBPath == "" {
		err = errors.New("db path is required")
	}
	if err == nil && c.List {
		return c, nil
	}

	switch {
	case err != nil:
	case c.SessionID == "":
		err = errors.New("session id is required")
	case c.OutputFile == "":
		err = errors.New("output file is required")
	case !isImageFormat(imageFormat):
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	case !isColorTheme(theme):
		err = fmt.Errorf("invalid color theme: %s", theme)
	case colorBy != string(MetricAltitude) && colorBy != string(MetricSpeed):
		err = fmt.Errorf("invalid color metric: %s", colorBy)
	case c.Width < minWidth || c.Width > maxWidth:
		err = fmt.Errorf("width must be between %d and %d: %d given", minWidth, maxWidth, c.Width)
	case c.StartTime != nil && c.EndTime != nil && c.EndTime.Before(*c.StartTime):
		err = errors.New("end time is before start time")
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.Theme = ColorTheme(theme)
	c.ColorBy = Metric(colorBy)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}
