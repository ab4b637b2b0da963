// Package api is the HTTP adapter: light control, device config, firmware upload and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/stripd/internal/color"
	"github.com/dokzlo13/stripd/internal/engine"
	"github.com/dokzlo13/stripd/internal/flash"
	"github.com/dokzlo13/stripd/internal/ledger"
	"github.com/dokzlo13/stripd/internal/light"
)

const (
	DefaultChunkSize    = 4096
	defaultHistoryLimit = 20
	abortTimeout        = 5 * time.Second
)

// Light is the engine surface used by the API.
type Light interface {
	ApplyIntent(light.Intent) error
	ApplyConfig(light.LightConfig) error
	State() light.State
}

// Flash is the flash actor surface used by the API.
type Flash interface {
	State() flash.State
	PersistConfig(light.DeviceConfig) error
	BeginOTA(ctx context.Context, size uint32) (flash.Session, error)
	WriteOTA(ctx context.Context, chunk []byte) error
	FinishOTA(ctx context.Context) (flash.Session, error)
	AbortOTA(ctx context.Context) error
}

// History reads recorded flash events.
type History interface {
	GetByTypes(types []ledger.EventType, limit int) ([]*ledger.Entry, error)
}

// Deps are the handler's collaborators. Only Light and Flash are required.
type Deps struct {
	Light          Light
	Flash          Flash
	History        History
	Config         light.DeviceConfig
	OnConfigChange func(light.DeviceConfig)
	ChunkSize      int
	BootSlot       func() string
	Ready          func() bool
	// MaxLedCount is the pixel count the output was opened with; 0 means unbounded.
	MaxLedCount func() int
}

// Handler implements the REST endpoints.
type Handler struct {
	deps Deps

	mu     sync.Mutex
	config light.DeviceConfig
}

func NewHandler(deps Deps) *Handler {
	if deps.ChunkSize <= 0 {
		deps.ChunkSize = DefaultChunkSize
	}
	return &Handler{deps: deps, config: deps.Config}
}

// Router builds the chi router with all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Post("/state", h.PostState)
		r.Get("/config", h.GetConfig)
		r.Put("/config", h.PutConfig)
		r.Post("/ota", h.UploadOTA)
		r.Get("/ota/history", h.OTAHistory)
	})
	return r
}

// ConfigResponse is the stored device config. RestartRequired is set when the
// new geometry only takes full effect after the output is reopened.
type ConfigResponse struct {
	light.DeviceConfig
	RestartRequired bool `json:"restart_required,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "healthy",
		"flash":  h.deps.Flash.State().String(),
	}
	if h.deps.BootSlot != nil {
		resp["boot_slot"] = h.deps.BootSlot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ready != nil && !h.deps.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, light.NewStateMessage(h.deps.Light.State()))
}

func (h *Handler) PostState(w http.ResponseWriter, r *http.Request) {
	var cmd light.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	in := cmd.Intent()
	if in.IsEmpty() {
		writeError(w, http.StatusBadRequest, "empty_intent", "No recognised fields in command")
		return
	}
	if err := h.deps.Light.ApplyIntent(in); err != nil {
		if errors.Is(err, engine.ErrIntentQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "busy", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "apply_failed", err.Error())
		return
	}
	log.Debug().Object("intent", in).Msg("HTTP intent accepted")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	cfg := h.config
	h.mu.Unlock()

	cfg.MQTT.Password = ""
	writeJSON(w, http.StatusOK, cfg)
}

// PutConfig replaces the device config. An omitted MQTT password keeps the stored one.
func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cfg := h.config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if msg := validateConfig(cfg); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_config", msg)
		return
	}

	if err := h.deps.Flash.PersistConfig(cfg); err != nil {
		status := http.StatusServiceUnavailable
		if !errors.Is(err, flash.ErrOTAActive) && !errors.Is(err, flash.ErrBusy) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, "persist_failed", err.Error())
		return
	}
	if err := h.deps.Light.ApplyConfig(cfg.Light); err != nil {
		log.Warn().Err(err).Msg("Config persisted but not yet applied to engine")
	}
	h.config = cfg
	if h.deps.OnConfigChange != nil {
		h.deps.OnConfigChange(cfg)
	}

	log.Info().Uint16("leds", cfg.Light.LedCount).Str("order", cfg.Light.ColorOrder.String()).Msg("Device config updated")
	resp := ConfigResponse{DeviceConfig: cfg}
	if h.deps.MaxLedCount != nil {
		if limit := h.deps.MaxLedCount(); limit > 0 && int(cfg.Light.LedCount) > limit {
			resp.RestartRequired = true
			log.Warn().
				Uint16("leds", cfg.Light.LedCount).
				Int("output_leds", limit).
				Msg("LED count exceeds the opened output, extra pixels stay dark until restart")
		}
	}
	resp.MQTT.Password = ""
	writeJSON(w, http.StatusOK, resp)
}

func validateConfig(cfg light.DeviceConfig) string {
	switch {
	case cfg.Light.LedCount == 0:
		return "led_count must be positive"
	case cfg.Light.SkipLeds >= cfg.Light.LedCount:
		return "skip_leds must be below led_count"
	case cfg.Light.BrightnessMin > cfg.Light.BrightnessMax:
		return "brightness_min must not exceed brightness_max"
	case !cfg.Light.ColorOrder.Valid():
		return "unknown color_order"
	case cfg.Light.Correction == color.Black:
		return "color_correction would blank the strip"
	}
	return ""
}

// UploadOTA streams the request body into the inactive firmware slot.
func (h *Handler) UploadOTA(w http.ResponseWriter, r *http.Request) {
	size := r.ContentLength
	if size <= 0 {
		writeError(w, http.StatusLengthRequired, "length_required", "Content-Length is required")
		return
	}
	if size > math.MaxUint32 {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "Image too large")
		return
	}

	ctx := r.Context()
	session, err := h.deps.Flash.BeginOTA(ctx, uint32(size))
	if err != nil {
		h.abortOnCancel(ctx, err)
		h.writeOTAError(w, err)
		return
	}
	logger := log.With().Str("session", session.ID.String()).Str("partition", session.Partition).Logger()
	logger.Info().Int64("size", size).Msg("OTA upload started")

	buf := make([]byte, h.deps.ChunkSize)
	var received int64
	for received < size {
		n, rerr := io.ReadFull(r.Body, buf[:min(int64(len(buf)), size-received)])
		if n > 0 {
			if err := h.deps.Flash.WriteOTA(ctx, buf[:n]); err != nil {
				h.abortOnCancel(ctx, err)
				h.writeOTAError(w, err)
				return
			}
			received += int64(n)
		}
		if rerr != nil {
			h.abort()
			logger.Warn().Err(rerr).Int64("received", received).Msg("OTA upload interrupted")
			h.writeOTAError(w, flash.ReadError(rerr))
			return
		}
	}

	done, err := h.deps.Flash.FinishOTA(ctx)
	if err != nil {
		h.abortOnCancel(ctx, err)
		h.writeOTAError(w, err)
		return
	}
	logger.Info().Uint32("written", done.Written).Msg("OTA upload complete, rebooting")
	writeJSON(w, http.StatusOK, map[string]any{
		"session":   done.ID.String(),
		"partition": done.Partition,
		"written":   done.Written,
		"status":    "rebooting",
	})
}

// abortOnCancel ends the session when the request context gave up before the actor replied.
func (h *Handler) abortOnCancel(ctx context.Context, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		h.abort()
	}
}

func (h *Handler) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	if err := h.deps.Flash.AbortOTA(ctx); err != nil && !errors.Is(err, flash.ErrNoSession) {
		log.Warn().Err(err).Msg("Failed to abort OTA session")
	}
}

func (h *Handler) writeOTAError(w http.ResponseWriter, err error) {
	var oe *flash.OTAError
	switch {
	case errors.Is(err, flash.ErrSessionActive):
		writeError(w, http.StatusConflict, "session_active", err.Error())
	case errors.Is(err, flash.ErrNoSession):
		writeError(w, http.StatusConflict, "no_session", err.Error())
	case errors.As(err, &oe) && oe.Kind == flash.OTARead:
		writeError(w, http.StatusBadRequest, oe.Kind.String(), err.Error())
	case errors.As(err, &oe):
		writeError(w, http.StatusInternalServerError, oe.Kind.String(), err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "ota_failed", err.Error())
	}
}

func (h *Handler) OTAHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeJSON(w, http.StatusOK, []*ledger.Entry{})
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := h.deps.History.GetByTypes(ledger.OTAEvents, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
