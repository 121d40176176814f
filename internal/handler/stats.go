package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/qrmenu/internal/codec"
	"github.com/xenking/qrmenu/internal/domain/stats"
)

// restaurantStats handles GET /api/restaurants/{id}/stats?window=day|month|year.
func (h *Handler) restaurantStats(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.stats.Report(r.Context(), r.PathValue("id"), window)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeReport(e, report) })
}

func encodeReport(e *jx.Encoder, rep *stats.Report) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("window", func(e *jx.Encoder) { e.Str(string(rep.Window)) })
		e.Field("from", func(e *jx.Encoder) { codec.EncodeTime(e, rep.From) })
		e.Field("to", func(e *jx.Encoder) { codec.EncodeTime(e, rep.To) })
		e.Field("total_revenue", func(e *jx.Encoder) { codec.EncodeDecimal(e, rep.TotalRevenue) })
		e.Field("total_orders", func(e *jx.Encoder) { e.Int(rep.TotalOrders) })
		e.Field("average_order_value", func(e *jx.Encoder) { codec.EncodeDecimal(e, rep.AverageOrderValue) })
		e.Field("buckets", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, b := range rep.Buckets {
					e.Obj(func(e *jx.Encoder) {
						e.Field("label", func(e *jx.Encoder) { e.Str(b.Label) })
						e.Field("revenue", func(e *jx.Encoder) { codec.EncodeDecimal(e, b.Revenue) })
						e.Field("orders", func(e *jx.Encoder) { e.Int(b.Orders) })
					})
				}
			})
		})
	})
}
