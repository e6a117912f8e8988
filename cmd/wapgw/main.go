// Command wapgw runs the WAP gateway: a UDP-facing WTP/WSP stack bridging
// wireless clients to an HTTP origin, with a push proxy riding on the
// session layer.
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/teleguys/kannel-sub001/internal/bridge"
	"github.com/teleguys/kannel-sub001/internal/config"
	"github.com/teleguys/kannel-sub001/internal/observability"
	"github.com/teleguys/kannel-sub001/internal/ppg"
	"github.com/teleguys/kannel-sub001/internal/secmgr"
	"github.com/teleguys/kannel-sub001/internal/wapevent"
	"github.com/teleguys/kannel-sub001/internal/wdp"
	"github.com/teleguys/kannel-sub001/internal/wsp"
	"github.com/teleguys/kannel-sub001/internal/wtp"
)

func main() {
	configPath := flag.String("config", "", "gateway config file (defaults apply when empty)")
	logLevel := flag.String("log-level", "info", "log level: trace|debug|info|warn|error")
	flag.Parse()

	logger := observability.InitLogger("wapgw")
	zerolog.SetGlobalLevel(observability.ParseLevel(*logLevel))

	cfg := config.GatewayConfig{Name: "wapgw", BindAddr: ":9201"}
	if *configPath != "" {
		loaded, err := config.LoadGatewayConfig(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("config unusable")
		}
		cfg = loaded
	}

	observability.RegisterMetrics()

	transport, err := wdp.Bind(cfg.BindAddr, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.BindAddr).Msg("session port bind failed")
	}
	var unitTransport *wdp.Transport
	if cfg.UnitBindAddr != "" {
		unitTransport, err = wdp.Bind(cfg.UnitBindAddr, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.UnitBindAddr).Msg("connectionless port bind failed")
		}
	}

	wtpLayer := wtp.New(cfg.WTP.Layer(), logger)
	wspLayer := wsp.New(cfg.WSP.Layer(), logger)
	pushGateway := ppg.New(cfg.PPG.Gateway(), logger)
	appLayer := bridge.New(cfg.Origin.Bridge(), logger)
	security := secmgr.New(logger)

	// Bottom-up start: every layer's dispatch targets are running before
	// anything feeds it events.
	security.Start(func(ev *wapevent.Event) {
		// No WTLS transport below the manager yet.
		logger.Debug().Stringer("kind", ev.Kind).Msg("wtls primitive dropped, no transport")
		ev.Destroy()
	})
	pushGateway.Start(func(ev *wapevent.Event) { wspLayer.Dispatch(ev) }, ppg.Callbacks{
		Delivered: func(pushID uint32) {
			logger.Info().Uint32("push", pushID).Msg("push delivered")
		},
		Aborted: func(pushID uint32, reason uint8) {
			logger.Warn().Uint32("push", pushID).Uint8("reason", reason).Msg("push failed")
		},
	})
	appLayer.Start(bridge.Dispatchers{
		WSP:  func(ev *wapevent.Event) { wspLayer.Dispatch(ev) },
		Push: pushGateway.Dispatch,
	})
	var unitDown wsp.Dispatch
	if unitTransport != nil {
		unitDown = unitTransport.Dispatch
	}
	wspLayer.Start(wsp.Dispatchers{
		Lower: func(ev *wapevent.Event) { wtpLayer.Dispatch(ev) },
		App:   appLayer.Dispatch,
		Push:  pushGateway.Dispatch,
		Unit:  unitDown,
	})
	wtpLayer.Start(transport.Dispatch, wspLayer.Dispatch)
	transport.Start(wtpLayer.Dispatch)
	if unitTransport != nil {
		unitTransport.Start(wspLayer.Dispatch)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok\n"))
		})
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	logger.Info().
		Str("name", cfg.Name).
		Stringer("bind", transport.Local()).
		Msg("gateway up")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	stop()
	logger.Info().Msg("gateway shutting down")

	// Stop intake first, then drain upward through the stack so each
	// layer's backlog lands in a still-running neighbour. The queues of
	// layers already gone route stray teardown events to their destructor.
	transport.Shutdown()
	if unitTransport != nil {
		unitTransport.Shutdown()
	}
	wtpLayer.Shutdown()
	wspLayer.Shutdown()
	appLayer.Shutdown()
	pushGateway.Shutdown()
	security.Shutdown()
	if metricsServer != nil {
		metricsServer.Close()
	}
	logger.Info().Msg("gateway down")
}
