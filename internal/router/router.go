package router

import (
	"log"
	"net/http"

	"github.com/comanda-app/api/internal/config"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/comanda-app/api/internal/events"
	"github.com/comanda-app/api/internal/handler"
	mw "github.com/comanda-app/api/internal/middleware"
	"github.com/comanda-app/api/internal/service"
	"github.com/comanda-app/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// New creates a Chi router with all application routes wired up.
// Committed changes are published to broker.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub, broker *events.Broker) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Services
	promotionService := service.NewPromotionService(queries, broker)
	checkoutService := service.NewCheckoutService(
		queries,
		pool,
		func(db database.DBTX) service.CheckoutStore {
			return database.New(db)
		},
		promotionService,
		broker,
		cfg.ReservationFee,
	)
	lifecycleService := service.NewLifecycleService(
		queries,
		pool,
		func(db database.DBTX) service.LifecycleStore {
			return database.New(db)
		},
		broker,
		cfg.RefundPromotionOnCancel,
	)
	reservationService := service.NewReservationService(
		queries,
		pool,
		func(db database.DBTX) service.ReservationStore {
			return database.New(db)
		},
		lifecycleService,
		broker,
		cfg.ReservationFee,
	)

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	menuHandler := handler.NewMenuHandler(queries)
	r.Route("/menu", menuHandler.RegisterRoutes)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// WebSocket feeds (token may come from ?token= on the handshake)
		r.With(mw.RequireRole(enum.RoleStaff)).Get("/ws/orders", func(w http.ResponseWriter, r *http.Request) {
			ws.ServeStaffWS(hub, w, r)
		})
		r.Get("/ws/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
			ws.ServeOrderWS(hub, lifecycleService, w, r)
		})

		// Cart preview
		cartHandler := handler.NewCartHandler(checkoutService)
		r.Route("/cart", cartHandler.RegisterRoutes)

		// Orders
		orderHandler := handler.NewOrderHandler(checkoutService, lifecycleService)
		r.Route("/orders", func(r chi.Router) {
			orderHandler.RegisterRoutes(r)

			// Payments (nested under orders)
			paymentHandler := handler.NewPaymentHandler(lifecycleService)
			r.Route("/{id}/payments", paymentHandler.RegisterRoutes)
		})

		// Promotions: validation is open to customers, management is staff-only
		promotionHandler := handler.NewPromotionHandler(promotionService, checkoutService)
		r.Route("/promotions", func(r chi.Router) {
			promotionHandler.RegisterRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(enum.RoleStaff))
				promotionHandler.RegisterAdminRoutes(r)
			})
		})

		// Reservations
		reservationHandler := handler.NewReservationHandler(reservationService)
		r.Route("/reservations", reservationHandler.RegisterRoutes)
	})

	log.Println("Router initialized with all handlers")
	return r
}
