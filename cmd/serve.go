package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/frectonz/penny/api"
	"github.com/frectonz/penny/health"
	"github.com/frectonz/penny/journal"
	"github.com/frectonz/penny/lifecycle"
	"github.com/frectonz/penny/pennyconfig"
	"github.com/frectonz/penny/proxy"
	"github.com/frectonz/penny/registry"
	"github.com/frectonz/penny/rundown"
	"github.com/frectonz/penny/runner"
	"github.com/frectonz/penny/tlsmgr"
	"github.com/frectonz/penny/warmup"
	"github.com/frectonz/penny/xlog"
)

var (
	flagAddress      string
	flagHTTPSAddress string
	flagNoTLS        bool
	flagPassword     string
)

var serveCmd = &cobra.Command{
	Use:   "serve <config>",
	Short: "Run the proxy against the given configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(args[0])
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddress, "address", ":80", "HTTP listen address")
	serveCmd.Flags().StringVar(&flagHTTPSAddress, "https-address", ":443", "HTTPS listen address")
	serveCmd.Flags().BoolVar(&flagNoTLS, "no-tls", false, "disable the HTTPS listener entirely")
	serveCmd.Flags().StringVar(&flagPassword, "password", "", "admin API password (falls back to PENNY_PASSWORD)")
}

func runServe(configPath string) error {
	log := xlog.NewDomain("serve")

	file, err := pennyconfig.Load(configPath)
	if err != nil {
		return err
	}

	password := flagPassword
	if password == "" {
		password = os.Getenv("PENNY_PASSWORD")
	}

	databasePath, _ := dbPathFromURL(file.DatabaseURL)
	j, err := journal.Open(databasePath)
	if err != nil {
		return err
	}
	defer j.Close()

	reg := registry.New()

	edges := make(warmup.Graph, len(file.Apps))
	for host, app := range file.Apps {
		if len(app.AlsoWarm) > 0 {
			edges[host] = app.AlsoWarm
		}
	}
	fanout := warmup.New(edges, func(host string) (warmup.Warmable, bool) {
		return reg.Get(host)
	}, nil)

	routes := make(map[string]string, len(file.Apps))
	for host, app := range file.Apps {
		cfg := lifecycle.AppConfig{
			Host:            host,
			Address:         app.Address,
			Command:         toRunnerCommand(app.Command),
			HealthCheckPath: app.HealthCheckPath,
			HealthBackoff: health.Backoff{
				Initial: time.Duration(app.Backoff.InitialMs) * time.Millisecond,
				Max:     time.Duration(app.Backoff.MaxSecs) * time.Second,
			},
			AdaptiveWait: app.AdaptiveWait,
			WaitPeriod:   app.WaitPeriod.Duration(),
			MinWait:      app.MinWait.Duration(),
			MaxWait:      app.MaxWait.Duration(),
			LowRate:      app.LowRate,
			HighRate:     app.HighRate,
			StartTimeout: app.StartTimeout.Duration(),
			StopTimeout:  app.StopTimeout.Duration(),
			AlsoWarm:     app.AlsoWarm,
		}
		if app.ColdStartPage {
			cfg.ColdStartPage = proxy.ColdStartPage(host)
		}

		ctrl, err := lifecycle.New(cfg, lifecycle.Deps{
			Journal: j,
			WarmUp:  fanout.Fire,
		})
		if err != nil {
			return err
		}
		reg.Add(ctrl)
		routes[host] = app.Address
	}

	front := proxy.New(reg, routes)

	hosts := make([]string, 0, len(file.Apps))
	for host := range file.Apps {
		hosts = append(hosts, host)
	}
	if file.APIDomain != "" {
		hosts = append(hosts, file.APIDomain)
	}

	secret, err := loadOrCreateSecret(file.TLS.CertsDir)
	if err != nil {
		return err
	}
	tm := tlsmgr.New(tlsmgr.Config{
		Enabled:                   file.TLS.Enabled,
		AcmeEmail:                 file.TLS.AcmeEmail,
		Staging:                   file.TLS.Staging,
		CertsDir:                  file.TLS.CertsDir,
		RenewalDays:               file.TLS.RenewalDays,
		RenewalCheckIntervalHours: file.TLS.RenewalCheckIntervalHours,
	}, hosts, secret)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := tm.Prewarm(ctx); err != nil {
		log.Warn().Err(err).Msg("certificate prewarm did not finish before startup")
	}
	cancel()

	adminSrv := api.New(j, reg, password)
	httpHandler := tm.HTTPHandler(front)

	httpServer := &http.Server{Addr: flagAddress, Handler: withAdmin(httpHandler, file.APIAddress, adminSrv)}

	var httpsServer *http.Server
	if !flagNoTLS {
		httpsServer = &http.Server{
			Addr:      flagHTTPSAddress,
			Handler:   front,
			TLSConfig: tm.TLSConfig(),
		}
	}

	var adminServer *http.Server
	if file.APIAddress != "" {
		adminServer = &http.Server{Addr: file.APIAddress, Handler: adminSrv}
	}

	errc := make(chan error, 3)
	go func() { errc <- listenAndServe(httpServer, "") }()
	if httpsServer != nil {
		go func() { errc <- listenAndServe(httpsServer, "tls") }()
	}
	if adminServer != nil {
		go func() { errc <- listenAndServe(adminServer, "") }()
	}

	select {
	case <-rundown.Signal:
		log.Info().Msg("shutting down")
	case err := <-errc:
		if err != nil {
			log.Error().Err(err).Msg("listener failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	if httpsServer != nil {
		httpsServer.Shutdown(shutdownCtx)
	}
	if adminServer != nil {
		adminServer.Shutdown(shutdownCtx)
	}

	return reg.Shutdown(shutdownCtx)
}

func listenAndServe(s *http.Server, mode string) error {
	var err error
	if mode == "tls" {
		err = s.ListenAndServeTLS("", "")
	} else {
		err = s.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// withAdmin serves the admin API on the plain HTTP listener when no
// dedicated api_address is configured for it, alongside the proxy.
func withAdmin(h http.Handler, apiAddress string, admin http.Handler) http.Handler {
	if apiAddress != "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			admin.ServeHTTP(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func toRunnerCommand(c pennyconfig.Command) runner.Command {
	return runner.Command{Cmd: c.Start, End: c.End}
}

func dbPathFromURL(url string) (string, error) {
	if rest, ok := strings.CutPrefix(url, "sqlite://"); ok {
		return rest, nil
	}
	return url, nil
}

// loadOrCreateSecret provides the seed for the self-signed CA used when ACME
// is disabled. It is stored next to the certificate cache so restarts keep
// issuing certificates under the same root.
func loadOrCreateSecret(certsDir string) (string, error) {
	path := filepath.Join(certsDir, "ca.secret")
	if data, err := os.ReadFile(path); err == nil {
		return string(data), nil
	}
	if err := os.MkdirAll(certsDir, 0o755); err != nil {
		return "", err
	}
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(raw[:])
	if err := atomic.WriteFile(path, strings.NewReader(secret)); err != nil {
		return "", err
	}
	return secret, nil
}
