package console

import (
	"time"

	"github.com/roman-kulish/ground-station/internal/camera"
	"github.com/roman-kulish/ground-station/internal/journal"
	"github.com/roman-kulish/ground-station/internal/mavlink"
)

// Websocket message types
const (
	TypeTelemetry = "telemetry"
	TypeStatus    = "status"
	TypeLog       = "log"
	TypeCamera    = "camera"
	TypeClock     = "clock"
)

const clockLayout = "15:04:05"

type statusData struct {
	Connected  bool            `json:"connected"`
	Heartbeat  bool            `json:"heartbeat"`
	Connection string          `json:"connection,omitempty"`
	System     *mavlink.System `json:"system,omitempty"`
}

type logData struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	HTML    string    `json:"html"`
}

func toLogData(e journal.Entry) logData {
	return logData{
		Time:    e.Time,
		Level:   e.Level.String(),
		Message: e.Message,
		HTML:    e.HTML(),
	}
}

type cameraData struct {
	Event     string `json:"event"`
	Camera    string `json:"camera"`
	Connected bool   `json:"connected"`
}

func toCameraData(e camera.Event) cameraData {
	return cameraData{
		Event:     e.Type.String(),
		Camera:    e.Camera,
		Connected: e.Type == camera.Started,
	}
}

type clockData struct {
	Time string `json:"time"`
}

func toClockData(t time.Time) clockData {
	return clockData{Time: t.Format(clockLayout)}
}

type connectRequest struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

type takeoffRequest struct {
	Height float32 `json:"height"`
}

type gotoRequest struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  float32 `json:"alt"`
	Speed     float32 `json:"speed"`
	Yaw       float32 `json:"yaw"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type cameraRequest struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error string `json:"error"`
}
