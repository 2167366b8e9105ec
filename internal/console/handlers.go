package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/roman-kulish/ground-station/internal/camera"
	"github.com/roman-kulish/ground-station/internal/mavlink"
	"github.com/roman-kulish/ground-station/internal/serialport"
	"github.com/roman-kulish/ground-station/internal/uav"
)

const (
	defaultLogLimit = 100
	maxBodySize     = 1 << 16
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

var errContentType = errors.New("content type must be application/json")

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		return errContentType
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	return nil
}

func requestStatus(err error) int {
	if errors.Is(err, errContentType) {
		return http.StatusUnsupportedMediaType
	}
	return http.StatusBadRequest
}

// statusCode maps vehicle and camera errors to HTTP status codes
func statusCode(err error) int {
	var commandErr *mavlink.CommandError
	var missionErr *mavlink.MissionError

	switch {
	case errors.Is(err, uav.ErrNotConnected), errors.Is(err, uav.ErrConnecting), errors.Is(err, mavlink.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, camera.ErrCameraNotFound):
		return http.StatusNotFound
	case errors.Is(err, camera.ErrNoCamera), errors.Is(err, mavlink.ErrInvalidURL), errors.Is(err, mavlink.ErrBaudrateUnknown):
		return http.StatusBadRequest
	case errors.Is(err, camera.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, mavlink.ErrNoSystem), errors.Is(err, mavlink.ErrCommandTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &commandErr), errors.As(err, &missionErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	ports, err := s.ports.List()
	if err != nil {
		s.logger.Error("listing serial ports", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	cameras, err := s.cameras.AvailableCameras()
	if err != nil {
		s.logger.Warn("listing cameras", "error", err)
		cameras = nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ports":           ports,
		"connections":     serialport.Connections(ports),
		"baudRates":       serialport.BaudRates,
		"defaultBaudRate": serialport.DefaultBaudRate,
		"cameras":         cameras,
	})
}

func (s *Server) handleVehicleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, requestStatus(err), err)
		return
	}
	if req.Port == "" {
		writeError(w, http.StatusBadRequest, errors.New("port is required"))
		return
	}
	if req.Baud == 0 {
		req.Baud = serialport.DefaultBaudRate
	}
	if !serialport.IsBaudRate(req.Baud) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported baud rate %d", req.Baud))
		return
	}

	s.logger.Info("operator: connect", "port", req.Port, "baud", req.Baud)
	if err := s.vehicle.Connect(r.Context(), req.Port, req.Baud); err != nil {
		writeError(w, statusCode(err), err)
		return
	}

	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleVehicleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("operator: disconnect")
	if err := s.vehicle.Disconnect(); err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleVehicleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleVehicleTelemetry(w http.ResponseWriter, r *http.Request) {
	t := s.vehicle.Get()
	if t == nil {
		writeError(w, http.StatusConflict, uav.ErrNotConnected)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("operator: arm")
	if err := s.vehicle.Arm(r.Context()); err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"armed": true})
}

func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("operator: disarm")
	if err := s.vehicle.Disarm(r.Context()); err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"armed": false})
}

func (s *Server) handleTakeoff(w http.ResponseWriter, r *http.Request) {
	var req takeoffRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, requestStatus(err), err)
		return
	}
	if req.Height <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("takeoff height must be positive, got %g", req.Height))
		return
	}

	s.logger.Info("operator: takeoff", "height", req.Height)
	if err := s.vehicle.Takeoff(r.Context(), req.Height); err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleGoto(w http.ResponseWriter, r *http.Request) {
	var req gotoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, requestStatus(err), err)
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid coordinate %f, %f", req.Latitude, req.Longitude))
		return
	}
	if req.Speed < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("speed must not be negative, got %g", req.Speed))
		return
	}

	s.logger.Info("operator: go to", "lat", req.Latitude, "lon", req.Longitude, "alt", req.Altitude, "speed", req.Speed, "yaw", req.Yaw)
	err := s.vehicle.SendCoordinates(r.Context(), req.Latitude, req.Longitude, req.Altitude, req.Speed, req.Yaw)
	if err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, requestStatus(err), err)
		return
	}
	cmd, err := uav.ParseFlightCommand(req.Command)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.logger.Info("operator: flight command", "command", cmd)
	if err := s.vehicle.Execute(r.Context(), cmd); err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"command": cmd.String()})
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	names, err := s.cameras.AvailableCameras()
	if err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cameras":   names,
		"current":   s.cameras.Current(),
		"connected": s.cameras.IsConnected(),
	})
}

func (s *Server) handleCameraConnect(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, requestStatus(err), err)
		return
	}

	s.logger.Info("operator: camera connect", "camera", req.Name)
	if err := s.cameras.Connect(r.Context(), req.Name); err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"current": s.cameras.Current(), "connected": true})
}

func (s *Server) handleCameraDisconnect(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("operator: camera disconnect")
	if err := s.cameras.Disconnect(); err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": false})
}

func (s *Server) handleCameraStream(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		http.NotFound(w, r)
		return
	}
	s.stream.ServeHTTP(w, r)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	entries := []logData{}
	if s.panel != nil {
		for _, e := range s.panel.Recent(limit) {
			entries = append(entries, toLogData(e))
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	initial := []Message{
		{Type: TypeStatus, Data: s.status()},
		{Type: TypeClock, Data: toClockData(s.now())},
	}
	if s.cameras.IsConnected() {
		initial = append(initial, Message{Type: TypeCamera, Data: cameraData{
			Event:     camera.Started.String(),
			Camera:    s.cameras.Current(),
			Connected: true,
		}})
	}
	s.hub.ServeWS(w, r, initial...)
}
