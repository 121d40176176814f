// Package handler implements the HTTP API: the public menu, order placement
// and status pages, and the owner dashboard.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/xenking/qrmenu/internal/domain/menu"
	"github.com/xenking/qrmenu/internal/domain/order"
	"github.com/xenking/qrmenu/internal/domain/profile"
	"github.com/xenking/qrmenu/internal/domain/stats"
	"github.com/xenking/qrmenu/internal/domain/tracking"
	"github.com/xenking/qrmenu/internal/live"
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// PublicBaseURL is the origin of the customer web app, used to build the
	// menu link encoded in QR codes.
	PublicBaseURL string
	// QRServiceURL renders a QR image for the URL passed in its data query
	// parameter.
	QRServiceURL string
	// KeepAlive is the interval between comments on idle event streams.
	KeepAlive time.Duration
}

// RestaurantFeed delivers every change to a restaurant's orders.
type RestaurantFeed interface {
	SubscribeRestaurant(ctx context.Context, restaurantID string, fn func(order.Event)) *live.Subscription
}

// Deps are the domain dependencies of the Handler.
type Deps struct {
	Orders   *order.Service
	Stats    *stats.Service
	Watcher  *tracking.Watcher
	Feed     RestaurantFeed
	Menus    menu.Repository
	Profiles profile.Repository
	Security *SecurityHandler
}

// Handler serves the HTTP API, delegating business logic to the domain
// services.
type Handler struct {
	orders   *order.Service
	stats    *stats.Service
	watcher  *tracking.Watcher
	feed     RestaurantFeed
	menus    menu.Repository
	profiles profile.Repository
	security *SecurityHandler

	publicBaseURL string
	qrServiceURL  string
	keepAlive     time.Duration
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig, deps Deps) *Handler {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}
	return &Handler{
		orders:        deps.Orders,
		stats:         deps.Stats,
		watcher:       deps.Watcher,
		feed:          deps.Feed,
		menus:         deps.Menus,
		profiles:      deps.Profiles,
		security:      deps.Security,
		publicBaseURL: cfg.PublicBaseURL,
		qrServiceURL:  cfg.QRServiceURL,
		keepAlive:     cfg.KeepAlive,
	}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	// Customer facing, no authentication.
	mux.HandleFunc("GET /api/menu/{restaurantId}", h.publicMenu)
	mux.HandleFunc("POST /api/menu/{restaurantId}/orders", h.placeOrder)
	mux.HandleFunc("GET /api/order-status/{orderId}", h.orderStatus)
	mux.HandleFunc("GET /api/order-status/{orderId}/events", h.orderStatusEvents)

	// Owner dashboard.
	owner := h.security.RequireOwner
	mux.Handle("GET /api/restaurants/{id}/orders", owner(h.listOrders))
	mux.Handle("GET /api/restaurants/{id}/orders/pending", owner(h.pendingOrders))
	mux.Handle("GET /api/restaurants/{id}/orders/events", owner(h.pendingEvents))
	mux.Handle("PATCH /api/restaurants/{id}/orders/{orderId}/status", owner(h.updateOrderStatus))
	mux.Handle("GET /api/restaurants/{id}/stats", owner(h.restaurantStats))
	mux.Handle("GET /api/restaurants/{id}/menu", owner(h.getMenu))
	mux.Handle("PUT /api/restaurants/{id}/menu", owner(h.putMenu))
	mux.Handle("GET /api/restaurants/{id}/profile", owner(h.getProfile))
	mux.Handle("PUT /api/restaurants/{id}/profile", owner(h.putProfile))
	mux.Handle("GET /api/restaurants/{id}/qr", owner(h.qrCode))
}
