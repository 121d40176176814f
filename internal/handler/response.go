package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/qrmenu/internal/domain/menu"
	"github.com/xenking/qrmenu/internal/domain/order"
	"github.com/xenking/qrmenu/internal/domain/profile"
	"github.com/xenking/qrmenu/internal/domain/stats"
)

// maxBodySize limits request bodies; a full menu is the largest payload.
const maxBodySize = 1 << 20

// badRequestError marks malformed input detected by the handler itself.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: errors.Errorf(format, args...).Error()}
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func encodeError(e *jx.Encoder, code int, message string) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, func(e *jx.Encoder) { encodeError(e, code, message) })
}

// errorStatus maps domain errors to HTTP status codes and client-safe
// messages.
func errorStatus(err error) (int, string) {
	var (
		badReq      *badRequestError
		quantity    *order.InvalidQuantityError
		missingItem *order.MenuItemNotFoundError
		unavailable *order.ItemUnavailableError
		transition  *order.InvalidTransitionError
		invalidMenu *menu.ValidationError
	)
	switch {
	case errors.As(err, &badReq),
		errors.As(err, &quantity),
		errors.As(err, &invalidMenu),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrEmptyCustomerIdentifier):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrRestaurantNotFound),
		errors.Is(err, menu.ErrNotFound),
		errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &transition),
		errors.Is(err, order.ErrStaleStatus):
		return http.StatusConflict, err.Error()
	case errors.As(err, &missingItem),
		errors.As(err, &unavailable):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, order.ErrCounterUnavailable):
		return http.StatusServiceUnavailable, "order numbering is temporarily unavailable, please retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := errorStatus(err)
	if code >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeError(w, code, msg)
}

// readBody decodes the request body with fn.
func readBody(r *http.Request, fn func(d *jx.Decoder) error) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return badRequest("read body: %v", err)
	}
	if len(data) > maxBodySize {
		return badRequest("body too large")
	}
	if len(data) == 0 {
		return badRequest("empty body")
	}
	if err := fn(jx.DecodeBytes(data)); err != nil {
		return badRequest("invalid body: %v", err)
	}
	return nil
}

func parseWindow(r *http.Request) (stats.Window, error) {
	s := r.URL.Query().Get("window")
	if s == "" {
		return stats.WindowDay, nil
	}
	w, err := stats.ParseWindow(s)
	if err != nil {
		return "", badRequest("%v", err)
	}
	return w, nil
}
