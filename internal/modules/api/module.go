package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
	"trade_sim/internal/authz"
	"trade_sim/internal/modules/api/service"
	"trade_sim/internal/modules/config"
	healthsvc "trade_sim/internal/modules/health/service"
	"trade_sim/internal/runner"

	"go.uber.org/fx"
)

// RunHTTP поднимает публичный порт. Мультиплексор строим тут же, в fx
// его не отдаём — там уже живёт админский mux из health.
func RunHTTP(lc fx.Lifecycle, cfg *config.Config, mgr *runner.Manager, auth *authz.Authz, state *healthsvc.State) {
	srv := service.NewServer(cfg, mgr, auth)

	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.PublicPort)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			go func() { _ = httpSrv.Serve(ln) }()
			state.SetReady(true)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			state.SetReady(false)
			return httpSrv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("api",
		fx.Invoke(RunHTTP),
	)
}
