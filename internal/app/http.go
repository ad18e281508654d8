package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/adanyl0v/go-task-manager/internal/config"
	"github.com/adanyl0v/go-task-manager/internal/delivery/http/v1"
	"github.com/adanyl0v/go-task-manager/internal/services"
)

// Serve listens until ctx is cancelled, then shuts the server down
// within the configured timeout.
func (a *App) Serve(ctx context.Context) error {
	httpCfg := a.cfg.HTTP
	server := &http.Server{
		Addr:         net.JoinHostPort(httpCfg.Host, httpCfg.Port),
		Handler:      a.newRouter(),
		ReadTimeout:  httpCfg.ReadTimeout,
		WriteTimeout: httpCfg.WriteTimeout,
		IdleTimeout:  httpCfg.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("host", httpCfg.Host).
			Str("port", httpCfg.Port).
			Msg("setting up http server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().
				Err(err).
				Msg("failed to listen and serve http")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error().
			Err(err).
			Msg("failed to shutdown http server")
		return err
	}
	a.logger.Info().Msg("shut down http server")
	return nil
}

func (a *App) newRouter() *gin.Engine {
	if a.cfg.Env != config.EnvLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := v1.New(
		a.logger,
		services.NewAuthService(
			a.logger,
			a.pgPool,
			a.cfg.JWT.Issuer,
			[]byte(a.cfg.JWT.SigningKey),
			a.cfg.JWT.AccessTokenTTL,
			a.cfg.JWT.RefreshTokenTTL,
		),
		services.NewSessionService(a.logger, a.pgPool),
		services.NewTaskService(a.logger, a.tasks()),
		a.cfg.ExposeErrors(),
	)

	router := gin.New()
	router.Use(v1.RequestLogger(a.logger))
	router.Use(gin.CustomRecovery(handler.HandleRecovery))
	router.Use(cors.New(corsConfig(a.cfg.HTTP.AllowedOrigins)))
	router.NoRoute(handler.HandleNotFound)
	v1.RegisterRoutes(router, handler)
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
