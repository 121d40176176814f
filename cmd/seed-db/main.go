package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/qrmenu/internal/domain/menu"
	"github.com/xenking/qrmenu/internal/domain/profile"
	"github.com/xenking/qrmenu/internal/handler"
	"github.com/xenking/qrmenu/internal/repository"
)

type seedJSON struct {
	Profile struct {
		Name       string `json:"name"`
		OrderStyle string `json:"order_style"`
		Currency   string `json:"currency"`
	} `json:"profile"`
	Categories []struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Position int    `json:"position"`
	} `json:"categories"`
	Items []struct {
		ID          string          `json:"id"`
		CategoryID  string          `json:"category_id"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Price       decimal.Decimal `json:"price"`
		ImageURL    string          `json:"image_url"`
		Available   *bool           `json:"available"`
	} `json:"items"`
}

func main() {
	var (
		databaseURL  string
		restaurantID string
		menuFile     string
		jwtSecret    string
		jwtIssuer    string
		tokenTTL     time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&restaurantID, "restaurant", "demo", "restaurant id to seed")
	flag.StringVar(&menuFile, "menu-file", "db/seed/menu.json", "path to menu JSON file, optionally gzipped (.gz)")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "owner token secret (or QRMENU_AUTH_JWT_SECRET env)")
	flag.StringVar(&jwtIssuer, "jwt-issuer", "", "owner token issuer")
	flag.DurationVar(&tokenTTL, "token-ttl", 30*24*time.Hour, "owner token lifetime")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("QRMENU_AUTH_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, restaurantID, menuFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if jwtSecret != "" {
		token, err := handler.NewSecurityHandler([]byte(jwtSecret), jwtIssuer).IssueToken(restaurantID, tokenTTL)
		if err != nil {
			slog.Error("issue owner token", slog.String("error", err.Error()))
			os.Exit(1)
		}
		fmt.Println(token)
	} else {
		slog.Warn("no jwt secret, skipping owner token")
	}

	slog.Info("seed completed successfully", slog.String("restaurant", restaurantID))
}

func run(ctx context.Context, databaseURL, restaurantID, menuFile string) error {
	seed, err := readSeed(menuFile)
	if err != nil {
		return err
	}
	p, m, err := buildSeed(restaurantID, seed)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := repository.NewProfileRepository(pool).Save(ctx, p); err != nil {
		return errors.Wrap(err, "save profile")
	}
	slog.Info("upserted profile", slog.String("name", p.Name), slog.String("order_style", string(p.OrderStyle)))

	if err := repository.NewMenuRepository(pool).Save(ctx, m); err != nil {
		return errors.Wrap(err, "save menu")
	}
	slog.Info("replaced menu", slog.Int("categories", len(m.Categories)), slog.Int("items", len(m.Items)))

	return nil
}

// readSeed parses the seed file, decompressing it when the name ends in .gz.
func readSeed(path string) (*seedJSON, error) {
	slog.Info("reading menu file", slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open menu file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if filepath.Ext(path) == ".gz" {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var seed seedJSON
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return nil, errors.Wrap(err, "parse menu JSON")
	}
	return &seed, nil
}

func buildSeed(restaurantID string, seed *seedJSON) (*profile.Profile, *menu.Menu, error) {
	p := profile.Default(restaurantID)
	p.Name = seed.Profile.Name
	if seed.Profile.OrderStyle != "" {
		style, err := profile.ParseOrderStyle(seed.Profile.OrderStyle)
		if err != nil {
			return nil, nil, err
		}
		p.OrderStyle = style
	}
	if seed.Profile.Currency != "" {
		p.Currency = seed.Profile.Currency
	}

	m := &menu.Menu{RestaurantID: restaurantID}
	for _, c := range seed.Categories {
		m.Categories = append(m.Categories, menu.Category{ID: c.ID, Name: c.Name, Position: c.Position})
	}
	for _, it := range seed.Items {
		available := it.Available == nil || *it.Available
		m.Items = append(m.Items, menu.Item{
			ID:          it.ID,
			CategoryID:  it.CategoryID,
			Name:        it.Name,
			Description: it.Description,
			Price:       it.Price,
			ImageURL:    it.ImageURL,
			Available:   available,
		})
	}
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	return p, m, nil
}
