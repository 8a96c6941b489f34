package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/OpenPrinting/go-mfp/proto/escl"
	"github.com/OpenPrinting/go-mfp/transport"
	"github.com/grandcat/zeroconf"
	"github.com/spf13/cobra"

	"github.com/mzyy94/ledmscan/internal/imaging"
	"github.com/mzyy94/ledmscan/internal/ledm"
	"github.com/mzyy94/ledmscan/internal/scanner"
	"github.com/mzyy94/ledmscan/internal/webui"
)

// eSCL resources served at the root for clients that ignore the rs TXT record.
var esclRootPaths = []string{"/ScannerCapabilities", "/ScannerStatus", "/ScanJobs", "/ScanJobs/"}

func newServeCmd(a *app) *cobra.Command {
	var (
		port      int
		name      string
		noMDNS    bool
		statusTTL time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the printer as an eSCL scanner with a web UI",
		Long: `Exposes the printer's webscan API as an eSCL (AirScan) scanner, so
sane-airscan, macOS and Windows can scan from it, and serves a small web UI
for scanning into the configured directory.`,
		Example: `  # Serve on the default port 8080
  ledmscan serve --printer 192.168.1.17

  # Serve on a custom port without mDNS advertisement
  ledmscan serve --port 9000 --no-mdns`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sc, err := a.scanner()
			if err != nil {
				return err
			}
			if name == "" {
				name = "HP Scanner (" + sc.Host() + ")"
			}

			settings := a.store.Get()
			adapter := scanner.NewESCLAdapter(sc, scanner.ESCLOptions{
				Name:        name,
				Compression: settings.Compression,
			})
			defer adapter.Close()
			worker := scanner.NewWorker(sc, &imaging.Optimizer{Binary: envStr("LEDMSCAN_OPTIMIZER", "")})
			defer worker.Wait()

			esclServer := escl.NewAbstractServer(escl.AbstractServerOptions{
				Scanner:  adapter,
				BasePath: "",
				Hooks: escl.ServerHooks{
					OnScannerStatusResponse: statusHook(adapter, statusTTL),
				},
			})

			mux := http.NewServeMux()
			// Serve at /eSCL/ for clients using the rs TXT record (sane-airscan, macOS)
			mux.Handle("/eSCL/", http.StripPrefix("/eSCL", esclServer))
			for _, p := range esclRootPaths {
				mux.Handle(p, esclServer)
			}
			mux.Handle("/", webui.NewHandler(ctx, webui.Options{
				Scanner:  sc,
				Adapter:  adapter,
				Worker:   worker,
				Settings: a.store,
				Port:     port,
			}))

			addr := fmt.Sprintf(":%d", port)
			server := &http.Server{
				Addr:    addr,
				Handler: logMiddleware(mux),
			}

			if !noMDNS {
				mdns, err := zeroconf.Register(
					name,
					ledm.ServiceType,
					"local.",
					port,
					[]string{
						"txtvers=1",
						"ty=" + name,
						"pdl=application/pdf,image/jpeg",
						"cs=color",
						"is=platen",
						"duplex=F",
						"rs=eSCL",
					},
					nil,
				)
				if err != nil {
					return fmt.Errorf("mdns registration: %w", err)
				}
				defer mdns.Shutdown()
				slog.Info("mDNS registered", "name", name, "service", ledm.ServiceType)
			}

			serverErr := make(chan error, 1)
			go func() {
				localIP := ledm.LocalIP(sc.Host())
				slog.Info("eSCL server starting", "addr", addr,
					"url", fmt.Sprintf("http://%s/eSCL", net.JoinHostPort(localIP, strconv.Itoa(port))),
					"printer", sc.BaseURL(),
				)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case <-ctx.Done():
				slog.Info("shutting down...")
				worker.Cancel()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("HTTP shutdown error", "err", err)
					return err
				}
				slog.Info("shutdown complete")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	fl := cmd.Flags()
	fl.IntVarP(&port, "port", "p", envInt("LEDMSCAN_LISTEN_PORT", 8080), "port to listen on (env LEDMSCAN_LISTEN_PORT)")
	fl.StringVar(&name, "name", envStr("LEDMSCAN_DEVICE_NAME", ""), "advertised scanner name (env LEDMSCAN_DEVICE_NAME)")
	fl.BoolVar(&noMDNS, "no-mdns", false, "do not advertise the scanner over mDNS")
	fl.DurationVar(&statusTTL, "status-timeout", 5*time.Second, "device status timeout for eSCL status requests")
	return cmd
}

// statusHook reports the device state in eSCL status responses.
func statusHook(adapter *scanner.ESCLAdapter, timeout time.Duration) func(*transport.ServerQuery, *escl.ScannerStatus) *escl.ScannerStatus {
	return func(_ *transport.ServerQuery, status *escl.ScannerStatus) *escl.ScannerStatus {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		state, err := adapter.DeviceState(ctx)
		if err != nil {
			slog.Debug("device status check failed", "err", err)
			return nil
		}
		if state.Ready() {
			status.State = escl.ScannerIdle
		} else {
			status.State = escl.ScannerProcessing
		}
		return status
	}
}

// responseRecorder captures the status code for logging.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(rec, r)
		level := slog.LevelDebug
		if rec.status >= 400 {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}
