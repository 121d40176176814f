// Package codec holds the JSON representation of orders shared by the HTTP
// API and the event broker.
package codec

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/qrmenu/internal/domain/order"
)

// EncodeDecimal writes d as a JSON string with two fraction digits, so money
// never passes through float64.
func EncodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

// DecodeDecimal accepts either a JSON string or a JSON number.
func DecodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.Errorf("unexpected %s for decimal", d.Next())
	}
}

// EncodeTime writes t in RFC 3339 with nanoseconds.
func EncodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

// DecodeTime reads an RFC 3339 timestamp.
func DecodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

// EncodeItem writes one order line.
func EncodeItem(e *jx.Encoder, it order.Item) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("menu_item_id", func(e *jx.Encoder) { e.Str(it.MenuItemID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
		e.Field("price", func(e *jx.Encoder) { EncodeDecimal(e, it.Price) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
		e.Field("subtotal", func(e *jx.Encoder) { EncodeDecimal(e, it.Subtotal()) })
	})
}

// DecodeItem reads one order line. Unknown fields, subtotal included, are
// skipped.
func DecodeItem(d *jx.Decoder) (order.Item, error) {
	var it order.Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "menu_item_id":
			it.MenuItemID, err = d.Str()
		case "name":
			it.Name, err = d.Str()
		case "price":
			it.Price, err = DecodeDecimal(d)
		case "quantity":
			it.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return it, err
}

// EncodeOrder writes o as a JSON object.
func EncodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("restaurant_id", func(e *jx.Encoder) { e.Str(o.RestaurantID) })
		e.Field("order_number", func(e *jx.Encoder) { e.Int(o.Number) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					EncodeItem(e, it)
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { EncodeDecimal(e, o.Total) })
		e.Field("customer_identifier", func(e *jx.Encoder) { e.Str(o.CustomerIdentifier) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("created_at", func(e *jx.Encoder) { EncodeTime(e, o.CreatedAt) })
		e.Field("updated_at", func(e *jx.Encoder) { EncodeTime(e, o.UpdatedAt) })
		e.Field("version", func(e *jx.Encoder) { e.Int(o.Version) })
	})
}

// DecodeOrder reads an order written by EncodeOrder.
func DecodeOrder(d *jx.Decoder) (*order.Order, error) {
	o := &order.Order{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			o.ID, err = d.Str()
		case "restaurant_id":
			o.RestaurantID, err = d.Str()
		case "order_number":
			o.Number, err = d.Int()
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				it, err := DecodeItem(d)
				if err != nil {
					return err
				}
				o.Items = append(o.Items, it)
				return nil
			})
		case "total":
			o.Total, err = DecodeDecimal(d)
		case "customer_identifier":
			o.CustomerIdentifier, err = d.Str()
		case "status":
			var s string
			if s, err = d.Str(); err == nil {
				o.Status, err = order.ParseStatus(s)
			}
		case "created_at":
			o.CreatedAt, err = DecodeTime(d)
		case "updated_at":
			o.UpdatedAt, err = DecodeTime(d)
		case "version":
			o.Version, err = d.Int()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// EncodeEvent writes an order change event.
func EncodeEvent(e *jx.Encoder, ev order.Event) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(string(ev.Type)) })
		if ev.Previous != "" {
			e.Field("previous", func(e *jx.Encoder) { e.Str(string(ev.Previous)) })
		}
		e.Field("order", func(e *jx.Encoder) { EncodeOrder(e, ev.Order) })
	})
}

// MarshalEvent returns the JSON encoding of ev.
func MarshalEvent(ev order.Event) []byte {
	var e jx.Encoder
	EncodeEvent(&e, ev)
	return e.Bytes()
}

// UnmarshalEvent decodes an event written by EncodeEvent.
func UnmarshalEvent(data []byte) (order.Event, error) {
	var ev order.Event
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "type":
			s, err := d.Str()
			if err != nil {
				return errors.Wrap(err, key)
			}
			ev.Type = order.EventType(s)
		case "previous":
			s, err := d.Str()
			if err != nil {
				return errors.Wrap(err, key)
			}
			ev.Previous = order.Status(s)
		case "order":
			o, err := DecodeOrder(d)
			if err != nil {
				return errors.Wrap(err, key)
			}
			ev.Order = o
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return order.Event{}, errors.Wrap(err, "decode event")
	}
	switch ev.Type {
	case order.EventCreated, order.EventStatusChanged:
	default:
		return order.Event{}, errors.Errorf("unknown event type %q", ev.Type)
	}
	if ev.Order == nil || ev.Order.ID == "" {
		return order.Event{}, errors.New("event without order")
	}
	return ev, nil
}
