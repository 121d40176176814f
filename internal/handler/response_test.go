package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/qrmenu/internal/domain/menu"
	"github.com/xenking/qrmenu/internal/domain/order"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"BadRequest", badRequest("nope"), http.StatusBadRequest},
		{"Quantity", &order.InvalidQuantityError{MenuItemID: "m1"}, http.StatusBadRequest},
		{"Menu", &menu.ValidationError{Field: "items", Reason: "bad"}, http.StatusBadRequest},
		{"EmptyItems", order.ErrEmptyItems, http.StatusBadRequest},
		{"OrderNotFound", errors.Wrap(order.ErrNotFound, "get"), http.StatusNotFound},
		{"RestaurantNotFound", order.ErrRestaurantNotFound, http.StatusNotFound},
		{"Transition", &order.InvalidTransitionError{From: order.StatusServed, To: order.StatusOngoing}, http.StatusConflict},
		{"Stale", order.ErrStaleStatus, http.StatusConflict},
		{"MissingItem", &order.MenuItemNotFoundError{MenuItemID: "x"}, http.StatusUnprocessableEntity},
		{"Unavailable", &order.ItemUnavailableError{MenuItemID: "x"}, http.StatusUnprocessableEntity},
		{"Counter", fmt.Errorf("%w: %w", order.ErrCounterUnavailable, errors.New("timeout")), http.StatusServiceUnavailable},
		{"Other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := errorStatus(tt.err)
			assert.Equal(t, tt.code, code)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestErrorStatus_HidesInternalDetails(t *testing.T) {
	_, msg := errorStatus(errors.New("pq: password authentication failed"))
	assert.Equal(t, "internal error", msg)
}
