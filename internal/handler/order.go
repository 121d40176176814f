package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/qrmenu/internal/codec"
	"github.com/xenking/qrmenu/internal/domain/order"
	"github.com/xenking/qrmenu/internal/domain/tracking"
)

// placeOrder handles POST /api/menu/{restaurantId}/orders.
//
//	{"customer_identifier": "Table 4", "items": [{"menu_item_id": "m1", "quantity": 2}]}
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	req := order.PlaceOrderRequest{RestaurantID: r.PathValue("restaurantId")}
	err := readBody(r, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "customer_identifier":
				s, err := d.Str()
				req.CustomerIdentifier = s
				return err
			case "items":
				return d.Arr(func(d *jx.Decoder) error {
					var line order.LineRequest
					err := d.Obj(func(d *jx.Decoder, key string) error {
						var err error
						switch key {
						case "menu_item_id":
							line.MenuItemID, err = d.Str()
						case "quantity":
							line.Quantity, err = d.Int()
						default:
							err = d.Skip()
						}
						return err
					})
					req.Items = append(req.Items, line)
					return err
				})
			default:
				return d.Skip()
			}
		})
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	o, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/order-status/"+o.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { codec.EncodeOrder(e, o) })
}

// orderStatus handles GET /api/order-status/{orderId}.
func (h *Handler) orderStatus(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v := tracking.NewView(o)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeView(e, v) })
}

// orderStatusEvents handles GET /api/order-status/{orderId}/events, a stream
// of "status" events carrying the current view. The first update decides the
// response: a missing order is a plain 404. Later failures end the stream
// with an "error" event.
func (h *Handler) orderStatusEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates := make(chan tracking.Update, 8)
	sub := h.watcher.Watch(ctx, r.PathValue("orderId"), func(u tracking.Update) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	})
	defer sub.Cancel()

	var first tracking.Update
	select {
	case first = <-updates:
	case <-ctx.Done():
		return
	}
	if first.Err != nil {
		writeTrackingError(w, first.Err)
		return
	}

	stream, err := startEventStream(w)
	if err != nil {
		zctx.From(ctx).Warn("Start event stream", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	u := first
	for {
		if u.Err != nil {
			code, msg := trackingError(u.Err)
			_ = stream.send("error", func(e *jx.Encoder) { encodeError(e, code, msg) })
			return
		}
		if err := stream.send("status", func(e *jx.Encoder) { encodeView(e, u.View) }); err != nil {
			return
		}

		for waiting := true; waiting; {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := stream.ping(); err != nil {
					return
				}
			case u = <-updates:
				waiting = false
			}
		}
	}
}

func trackingError(err error) (int, string) {
	if errors.Is(err, tracking.ErrOrderNotFound) {
		return http.StatusNotFound, "order_not_found"
	}
	return http.StatusServiceUnavailable, "order_load_failed"
}

func writeTrackingError(w http.ResponseWriter, err error) {
	code, msg := trackingError(err)
	writeError(w, code, msg)
}

func encodeView(e *jx.Encoder, v *tracking.View) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Str(v.OrderID) })
		e.Field("order_number", func(e *jx.Encoder) { e.Int(v.Number) })
		e.Field("title", func(e *jx.Encoder) { e.Str(v.Title()) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(v.Status)) })
		e.Field("label", func(e *jx.Encoder) { e.Str(v.Label) })
		e.Field("icon", func(e *jx.Encoder) { e.Str(v.Icon) })
		e.Field("step", func(e *jx.Encoder) { e.Int(v.Step) })
		e.Field("total_steps", func(e *jx.Encoder) { e.Int(v.TotalSteps) })
		e.Field("percentage", func(e *jx.Encoder) { e.Float64(v.Percentage) })
		e.Field("canceled", func(e *jx.Encoder) { e.Bool(v.Canceled) })
		e.Field("customer_identifier", func(e *jx.Encoder) { e.Str(v.CustomerIdentifier) })
		e.Field("created_at", func(e *jx.Encoder) { codec.EncodeTime(e, v.CreatedAt) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range v.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("price", func(e *jx.Encoder) { codec.EncodeDecimal(e, l.Price) })
						e.Field("subtotal", func(e *jx.Encoder) { codec.EncodeDecimal(e, l.Subtotal) })
					})
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { codec.EncodeDecimal(e, v.Total) })
	})
}

// listOrders handles GET /api/restaurants/{id}/orders?class=active|past&status=...
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseOrderFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	orders, err := h.orders.List(r.Context(), r.PathValue("id"), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orders", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, o := range orders {
						encodeDashboardOrder(e, o)
					}
				})
			})
		})
	})
}

// encodeDashboardOrder adds the derived classification to the order.
func encodeDashboardOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("class", func(e *jx.Encoder) { e.Str(string(order.Classify(o.Status))) })
		e.Field("order", func(e *jx.Encoder) { codec.EncodeOrder(e, o) })
	})
}

// parseOrderFilter reads the class and status query parameters. Explicit
// statuses take precedence over the class.
func parseOrderFilter(r *http.Request) (order.Filter, error) {
	q := r.URL.Query()

	var f order.Filter
	switch order.Class(q.Get("class")) {
	case "":
	case order.ClassActive:
		f = order.ActiveFilter()
	case order.ClassPast:
		f = order.PastFilter()
	default:
		return f, badRequest("unknown class %q", q.Get("class"))
	}

	var statuses []order.Status
	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			st, err := order.ParseStatus(strings.TrimSpace(s))
			if err != nil {
				return f, badRequest("%v", err)
			}
			statuses = append(statuses, st)
		}
	}
	if len(statuses) > 0 {
		f.Statuses = statuses
	}
	return f, nil
}

// pendingOrders handles GET /api/restaurants/{id}/orders/pending.
func (h *Handler) pendingOrders(w http.ResponseWriter, r *http.Request) {
	n, err := h.orders.PendingCount(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePending(e, n) })
}

func encodePending(e *jx.Encoder, n int) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("pending", func(e *jx.Encoder) { e.Int(n) })
	})
}

// pendingEvents handles GET /api/restaurants/{id}/orders/events. It streams
// "order" events for every change and a "pending" event with the recomputed
// badge count after each of them.
func (h *Handler) pendingEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	restaurantID := r.PathValue("id")

	events := make(chan order.Event, 16)
	// Subscribe before the first count, so no change falls in between.
	sub := h.feed.SubscribeRestaurant(ctx, restaurantID, func(ev order.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	defer sub.Cancel()

	n, err := h.orders.PendingCount(ctx, restaurantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stream, err := startEventStream(w)
	if err != nil {
		zctx.From(ctx).Warn("Start event stream", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if err := stream.send("pending", func(e *jx.Encoder) { encodePending(e, n) }); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := stream.ping(); err != nil {
				return
			}
		case ev := <-events:
			if err := stream.send("order", func(e *jx.Encoder) { codec.EncodeEvent(e, ev) }); err != nil {
				return
			}
			n, err := h.orders.PendingCount(ctx, restaurantID)
			if err != nil {
				zctx.From(ctx).Warn("Recount pending orders", zap.Error(err))
				continue
			}
			if err := stream.send("pending", func(e *jx.Encoder) { encodePending(e, n) }); err != nil {
				return
			}
		}
	}
}

// updateOrderStatus handles PATCH /api/restaurants/{id}/orders/{orderId}/status.
//
//	{"status": "On the Way"}
func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var raw string
	err := readBody(r, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "status" {
				return d.Skip()
			}
			s, err := d.Str()
			raw = s
			return err
		})
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := order.ParseStatus(raw)
	if err != nil {
		h.fail(w, r, badRequest("%v", err))
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), r.PathValue("orderId"), to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDashboardOrder(e, o) })
}
