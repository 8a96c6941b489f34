package webui

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/mzyy94/ledmscan/internal/config"
	"github.com/mzyy94/ledmscan/internal/ledm"
	"github.com/mzyy94/ledmscan/internal/metadata"
	"github.com/mzyy94/ledmscan/internal/scanner"
)

//go:embed static
var staticFS embed.FS

// Options configures the Web UI handler.
type Options struct {
	Scanner  *scanner.Scanner
	Adapter  *scanner.ESCLAdapter // nil when the eSCL bridge is not served
	Worker   *scanner.Worker
	Settings *config.Store
	Port     int // listen port, used to build the eSCL URL
}

type handler struct {
	sc         *scanner.Scanner
	adapter    *scanner.ESCLAdapter
	worker     *scanner.Worker
	settings   *config.Store
	listenPort int

	// scans started from the UI outlive the request that started them
	baseCtx context.Context
}

// NewHandler creates an HTTP handler for the Web UI. Scans started through
// it run until they finish or ctx is cancelled.
func NewHandler(ctx context.Context, opts Options) http.Handler {
	settings := opts.Settings
	if settings == nil {
		settings = config.NewMemoryStore()
	}
	h := &handler{
		sc:         opts.Scanner,
		adapter:    opts.Adapter,
		worker:     opts.Worker,
		settings:   settings,
		listenPort: opts.Port,
		baseCtx:    ctx,
	}
	mux := http.NewServeMux()
	staticContent, _ := fs.Sub(staticFS, "static")
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("POST /api/scan", h.handleScan)
	mux.HandleFunc("GET /api/job", h.handleJob)
	mux.HandleFunc("GET /api/settings", h.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", h.handlePutSettings)
	mux.Handle("GET /", http.FileServer(http.FS(staticContent)))
	return mux
}

type statusResponse struct {
	Online    bool       `json:"online"`
	State     string     `json:"state"`
	Ready     bool       `json:"ready"`
	Message   string     `json:"message,omitempty"`
	Device    deviceInfo `json:"device"`
	Caps      capsInfo   `json:"capabilities"`
	ESCLUrl   string     `json:"esclUrl,omitempty"`
	UpdatedAt string     `json:"updatedAt"`
}

type deviceInfo struct {
	Name         string `json:"name"`
	Host         string `json:"host"`
	BaseURL      string `json:"baseUrl"`
	Manufacturer string `json:"manufacturer"`
}

type capsInfo struct {
	Resolutions    []int    `json:"resolutions"`
	MinCompression int      `json:"minCompression"`
	MaxCompression int      `json:"maxCompression"`
	Formats        []string `json:"formats"`
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	resp := statusResponse{
		Device: deviceInfo{
			Name:    h.sc.Host(),
			Host:    h.sc.Host(),
			BaseURL: h.sc.BaseURL(),
		},
		Caps: capsInfo{
			Resolutions:    ledm.Resolutions,
			MinCompression: ledm.MinCompression,
			MaxCompression: ledm.MaxCompression,
			Formats:        []string{"image/jpeg"},
		},
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	state, err := h.sc.Status(ctx)
	switch {
	case err == nil:
		resp.Online = true
		resp.State = string(state)
		resp.Ready = state.Ready()
	case errors.Is(err, scanner.ErrUnavailable):
		// reachable, but the state field was missing
		resp.Online = true
		resp.State = "unknown"
		resp.Message = scanner.Describe(err)
	default:
		slog.Debug("status check failed", "err", err)
		resp.State = "offline"
		resp.Message = scanner.Describe(err)
	}

	if h.adapter != nil {
		caps := h.adapter.Capabilities()
		resp.Device.Name = caps.MakeAndModel
		resp.Device.Manufacturer = caps.Manufacturer
		resp.Caps.Formats = caps.DocumentFormats
		localIP := ledm.LocalIP(h.sc.Host())
		resp.ESCLUrl = fmt.Sprintf("http://%s:%d/eSCL", localIP, h.listenPort)
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Scan API ---

type scanRequest struct {
	Resolution  *int   `json:"resolution,omitempty"`
	Compression *int   `json:"compression,omitempty"`
	OutputDir   string `json:"outputDir,omitempty"`
	// Metadata entries are "key=value"; People are "Name@x,y[;key=value...]".
	Metadata []string `json:"metadata,omitempty"`
	People   []string `json:"people,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *handler) handleScan(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		http.Error(w, "scanning disabled", http.StatusNotImplemented)
		return
	}
	var req scanRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	opts := scanner.OptionsFromSettings(h.settings.Get())
	if req.Resolution != nil {
		opts.Resolution = *req.Resolution
	}
	if req.Compression != nil {
		opts.Compression = *req.Compression
	}
	if req.OutputDir != "" {
		opts.OutputDir = req.OutputDir
	}
	for _, m := range req.Metadata {
		pair, err := metadata.ParsePair(m)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Metadata = append(opts.Metadata, pair)
	}
	for _, p := range req.People {
		person, err := metadata.ParsePerson(p)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.People = append(opts.People, person)
	}

	if _, err := h.worker.Start(h.baseCtx, opts); err != nil {
		status := http.StatusInternalServerError
		var ip *scanner.InvalidParameterError
		switch {
		case errors.Is(err, scanner.ErrBusy):
			status = http.StatusConflict
		case errors.As(err, &ip):
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: err.Error(), Message: scanner.Describe(err)})
		return
	}
	for _, p := range opts.People {
		if err := h.settings.AddRecentPerson(p.Name()); err != nil {
			slog.Warn("could not remember person", "name", p.Name(), "err", err)
		}
	}
	slog.Info("scan started from web ui", "dpi", opts.Resolution, "people", len(opts.People), "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, h.worker.Status())
}

func (h *handler) handleJob(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		writeJSON(w, http.StatusOK, scanner.ScanJobStatus{})
		return
	}
	writeJSON(w, http.StatusOK, h.worker.Status())
}

// --- Settings API ---

func (h *handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Get())
}

func (h *handler) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	s := h.settings.Get()
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := scanner.CheckParameters(s.Resolution, s.Compression); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.settings.Update(s); err != nil {
		slog.Warn("settings save failed", "err", err)
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.settings.Get())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}
