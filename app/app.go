// Package app assembles the service from configuration: the selected
// backend, the query cache, push delivery, the notifier, carts and the
// HTTP router.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Zoro-chi/FoodOrderingApp/backend"
	"github.com/Zoro-chi/FoodOrderingApp/backend/memory"
	"github.com/Zoro-chi/FoodOrderingApp/cart"
	"github.com/Zoro-chi/FoodOrderingApp/config"
	"github.com/Zoro-chi/FoodOrderingApp/controllers"
	"github.com/Zoro-chi/FoodOrderingApp/database"
	"github.com/Zoro-chi/FoodOrderingApp/logging"
	"github.com/Zoro-chi/FoodOrderingApp/metrics"
	"github.com/Zoro-chi/FoodOrderingApp/middleware"
	"github.com/Zoro-chi/FoodOrderingApp/notifier"
	"github.com/Zoro-chi/FoodOrderingApp/payment"
	"github.com/Zoro-chi/FoodOrderingApp/postgres"
	"github.com/Zoro-chi/FoodOrderingApp/push"
	"github.com/Zoro-chi/FoodOrderingApp/query"
	"github.com/Zoro-chi/FoodOrderingApp/routes"
	"github.com/Zoro-chi/FoodOrderingApp/supabase"
)

const shutdownTimeout = 15 * time.Second

// ErrPaymentNotConfigured is returned by checkouts when no payment
// function URL is available.
var ErrPaymentNotConfigured = errors.New("payment function is not configured")

type App struct {
	Config   *config.Config
	Log      logrus.FieldLogger
	Backend  backend.Backend
	Cache    *query.Cache
	Push     *push.Dispatcher
	Notifier *notifier.Notifier
	Carts    *cart.Registry
	Limiter  *middleware.RateLimiter
	Router   *gin.Engine
}

// OpenBackend connects the backend named by cfg.Backend.
func OpenBackend(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (backend.Backend, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	switch cfg.Backend {
	case config.BackendMemory:
		log.Warn("using the in-memory backend, data is lost on exit")
		return memory.New(), nil
	case config.BackendMongo:
		s, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.DBName, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSupabase:
		s, err := supabase.New(supabase.Config{
			URL:        cfg.SupabaseURL,
			AnonKey:    cfg.SupabaseAnonKey,
			ServiceKey: cfg.SupabaseServiceKey,
		}, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// Gateway returns the payment-sheet client, or one that refuses every
// checkout when no function URL is configured.
func Gateway(cfg *config.Config, log logrus.FieldLogger) payment.Gateway {
	if log == nil {
		log = logrus.StandardLogger()
	}
	gw, err := payment.NewFunctionGateway(payment.FunctionConfig{
		URL:    cfg.PaymentURL(),
		APIKey: cfg.SupabaseAnonKey,
		Logger: log,
	})
	if err != nil {
		log.WithError(err).Warn("payment gateway disabled")
		return disabledGateway{}
	}
	return gw
}

type disabledGateway struct{}

func (disabledGateway) FetchSheetParams(context.Context, int64) (*payment.SheetParams, error) {
	return nil, ErrPaymentNotConfigured
}

// New opens the configured backend and builds the service on it.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	be, err := OpenBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return Build(cfg, log, be, Gateway(cfg, log), push.NewExpoClient(push.ExpoConfig{
		URL:         cfg.ExpoPushURL,
		AccessToken: cfg.ExpoAccessToken,
	})), nil
}

// Build wires the service on an open backend.
func Build(cfg *config.Config, log logrus.FieldLogger, be backend.Backend, gateway payment.Gateway, sender push.Sender) *App {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cache := query.New(cfg.QueryCacheSize)

	dispatcher := push.NewDispatcher(sender, log)
	dispatcher.OnResult = metrics.RecordPush

	n := notifier.New(be, cache, dispatcher, log)
	carts := cart.NewRegistry(cart.Deps{Gateway: gateway, Orders: be, Logger: log})
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)

	products := controllers.NewProductController(be, cache)
	orders := controllers.NewOrderController(be, cache, n)

	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(log), metrics.Middleware())
	r.SetTrustedProxies(nil)
	routes.RegisterRoutes(r, routes.Handlers{
		Products: products,
		Cart:     controllers.NewCartController(carts, products, cache),
		Orders:   orders,
		Live:     controllers.NewLiveController(orders, n, log),
		Profile:  controllers.NewProfileController(be),
		Auth:     middleware.NewAuth(cfg.JWTSecret, be, log),
		Limiter:  limiter,
	})

	return &App{
		Config:   cfg,
		Log:      log,
		Backend:  be,
		Cache:    cache,
		Push:     dispatcher,
		Notifier: n,
		Carts:    carts,
		Limiter:  limiter,
		Router:   r,
	}
}

// WatchOrders keeps cached order views coherent with writes made outside
// this process. The returned func stops both watches.
func (a *App) WatchOrders(ctx context.Context) (stop func(), err error) {
	inserts, err := a.Notifier.WatchOrderInserts(ctx, nil)
	if err != nil {
		return nil, err
	}
	updates, err := a.Notifier.WatchOrderUpdates(ctx, nil)
	if err != nil {
		inserts.Close()
		return nil, err
	}
	return func() {
		inserts.Close()
		updates.Close()
	}, nil
}

// Run serves HTTP on cfg.Port until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	stopWatches, err := a.WatchOrders(ctx)
	if err != nil {
		a.Log.WithError(err).Warn("order cache watches not started")
		stopWatches = func() {}
	}
	defer stopWatches()

	a.Limiter.StartCleanup(ctx, 5*time.Minute)

	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Close waits for pending push sends and closes the backend.
func (a *App) Close(ctx context.Context) error {
	a.Notifier.Wait()
	a.Push.Wait()
	return a.Backend.Close(ctx)
}
