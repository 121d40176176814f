package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/qrmenu/internal/codec"
	"github.com/xenking/qrmenu/internal/domain/menu"
	"github.com/xenking/qrmenu/internal/domain/profile"
)

// publicMenu handles GET /api/menu/{restaurantId}. Only available items are
// listed. A profile that cannot be loaded degrades to the defaults.
func (h *Handler) publicMenu(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	restaurantID := r.PathValue("restaurantId")

	m, err := h.menus.Get(ctx, restaurantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := profile.Load(ctx, h.profiles, restaurantID)
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		zctx.From(ctx).Warn("Using default profile", zap.String("restaurant_id", restaurantID), zap.Error(err))
	}

	available := make([]menu.Item, 0, len(m.Items))
	for _, it := range m.Items {
		if it.Available {
			available = append(available, it)
		}
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("restaurant_id", func(e *jx.Encoder) { e.Str(restaurantID) })
			e.Field("profile", func(e *jx.Encoder) { encodeProfile(e, p) })
			e.Field("categories", func(e *jx.Encoder) { encodeCategories(e, m.Categories) })
			e.Field("items", func(e *jx.Encoder) { encodeMenuItems(e, available) })
		})
	})
}

// getMenu handles GET /api/restaurants/{id}/menu, including unavailable
// items. A restaurant without a menu gets an empty one.
func (h *Handler) getMenu(w http.ResponseWriter, r *http.Request) {
	restaurantID := r.PathValue("id")
	m, err := h.menus.Get(r.Context(), restaurantID)
	switch {
	case errors.Is(err, menu.ErrNotFound):
		m = &menu.Menu{RestaurantID: restaurantID}
	case err != nil:
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeMenu(e, m) })
}

// putMenu handles PUT /api/restaurants/{id}/menu, replacing the whole menu.
func (h *Handler) putMenu(w http.ResponseWriter, r *http.Request) {
	m := &menu.Menu{RestaurantID: r.PathValue("id")}
	err := readBody(r, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "categories":
				return d.Arr(func(d *jx.Decoder) error {
					c, err := decodeCategory(d)
					m.Categories = append(m.Categories, c)
					return err
				})
			case "items":
				return d.Arr(func(d *jx.Decoder) error {
					it, err := decodeMenuItem(d)
					m.Items = append(m.Items, it)
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
	if err := m.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.menus.Save(r.Context(), m); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeMenu(e, m) })
}

func encodeMenu(e *jx.Encoder, m *menu.Menu) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("restaurant_id", func(e *jx.Encoder) { e.Str(m.RestaurantID) })
		e.Field("categories", func(e *jx.Encoder) { encodeCategories(e, m.Categories) })
		e.Field("items", func(e *jx.Encoder) { encodeMenuItems(e, m.Items) })
	})
}

func encodeCategories(e *jx.Encoder, categories []menu.Category) {
	e.Arr(func(e *jx.Encoder) {
		for _, c := range categories {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(c.Name) })
				e.Field("position", func(e *jx.Encoder) { e.Int(c.Position) })
			})
		}
	})
}

func encodeMenuItems(e *jx.Encoder, items []menu.Item) {
	e.Arr(func(e *jx.Encoder) {
		for _, it := range items {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
				e.Field("category_id", func(e *jx.Encoder) { e.Str(it.CategoryID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
				e.Field("description", func(e *jx.Encoder) { e.Str(it.Description) })
				e.Field("price", func(e *jx.Encoder) { codec.EncodeDecimal(e, it.Price) })
				e.Field("image_url", func(e *jx.Encoder) { e.Str(it.ImageURL) })
				e.Field("available", func(e *jx.Encoder) { e.Bool(it.Available) })
			})
		}
	})
}

func decodeCategory(d *jx.Decoder) (menu.Category, error) {
	var c menu.Category
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Str()
		case "name":
			c.Name, err = d.Str()
		case "position":
			c.Position, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return c, err
}

// decodeMenuItem reads an item; "available" defaults to true.
func decodeMenuItem(d *jx.Decoder) (menu.Item, error) {
	it := menu.Item{Available: true}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			it.ID, err = d.Str()
		case "category_id":
			it.CategoryID, err = d.Str()
		case "name":
			it.Name, err = d.Str()
		case "description":
			it.Description, err = d.Str()
		case "price":
			it.Price, err = codec.DecodeDecimal(d)
		case "image_url":
			it.ImageURL, err = d.Str()
		case "available":
			it.Available, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return it, err
}

// getProfile handles GET /api/restaurants/{id}/profile. Owners without a
// stored profile get the defaults and "configured": false, which the
// dashboard uses to redirect to setup.
func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := profile.Load(r.Context(), h.profiles, r.PathValue("id"))
	configured := err == nil
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("configured", func(e *jx.Encoder) { e.Bool(configured) })
			e.Field("profile", func(e *jx.Encoder) { encodeProfile(e, p) })
		})
	})
}

// putProfile handles PUT /api/restaurants/{id}/profile.
//
//	{"name": "Trattoria", "order_style": "table", "currency": "EUR"}
func (h *Handler) putProfile(w http.ResponseWriter, r *http.Request) {
	p := profile.Default(r.PathValue("id"))
	err := readBody(r, func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "name":
				s, err := d.Str()
				p.Name = strings.TrimSpace(s)
				return err
			case "order_style":
				s, err := d.Str()
				if err != nil {
					return err
				}
				p.OrderStyle, err = profile.ParseOrderStyle(s)
				return err
			case "currency":
				s, err := d.Str()
				p.Currency = strings.ToUpper(strings.TrimSpace(s))
				return err
			default:
				return d.Skip()
			}
		})
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(p.Currency) != 3 {
		h.fail(w, r, badRequest("currency must be a 3-letter code"))
		return
	}
	if err := h.profiles.Save(r.Context(), p); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("configured", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("profile", func(e *jx.Encoder) { encodeProfile(e, p) })
		})
	})
}

func encodeProfile(e *jx.Encoder, p *profile.Profile) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("order_style", func(e *jx.Encoder) { e.Str(string(p.OrderStyle)) })
		e.Field("identifier_label", func(e *jx.Encoder) { e.Str(p.OrderStyle.Label()) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(p.Currency) })
	})
}

// qrCode handles GET /api/restaurants/{id}/qr. The image itself is rendered
// by the external QR service.
func (h *Handler) qrCode(w http.ResponseWriter, r *http.Request) {
	menuURL, qrURL, err := h.qrLinks(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("menu_url", func(e *jx.Encoder) { e.Str(menuURL) })
			e.Field("qr_image_url", func(e *jx.Encoder) { e.Str(qrURL) })
		})
	})
}

func (h *Handler) qrLinks(restaurantID string) (menuURL, qrURL string, err error) {
	menuURL, err = url.JoinPath(h.publicBaseURL, "menu", restaurantID)
	if err != nil {
		return "", "", errors.Wrap(err, "menu url")
	}
	qr, err := url.Parse(h.qrServiceURL)
	if err != nil {
		return "", "", errors.Wrap(err, "qr service url")
	}
	q := qr.Query()
	q.Set("size", "300x300")
	q.Set("data", menuURL)
	qr.RawQuery = q.Encode()
	return menuURL, qr.String(), nil
}
