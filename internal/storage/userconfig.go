package storage

import (
	"context"
	"database/sql"

	pkgerrors "github.com/pkg/errors"

	"github.com/yzernik/squeakroad-sub000/internal/models"
)

// ensureUser inserts the user and config rows if they are missing.
func (s *Store) ensureUser(ctx context.Context, username string) error {
	if err := s.exec(ctx, "store.ensureUser.User: ",
		`INSERT INTO "user" (username, created_time_ms) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		username, s.nowMs()); err != nil {
		return err
	}
	return s.exec(ctx, "store.ensureUser.Config: ",
		`INSERT INTO config (username) VALUES ($1) ON CONFLICT DO NOTHING`, username)
}

// GetUserConfig returns the settings row for username, creating it on first use.
func (s *Store) GetUserConfig(ctx context.Context, username string) (models.UserConfig, error) {
	if err := s.ensureUser(ctx, username); err != nil {
		return models.UserConfig{}, err
	}
	cfg := models.UserConfig{Username: username}
	var price sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT sell_price_msat FROM config WHERE username = $1`, username,
	).Scan(&price)
	if err != nil {
		return models.UserConfig{}, pkgerrors.Wrap(err, "store.GetUserConfig.QueryRow: ")
	}
	if price.Valid {
		cfg.SellPriceMsat = &price.Int64
	}
	return cfg, nil
}

func (s *Store) SetSellPrice(ctx context.Context, username string, priceMsat int64) error {
	if err := s.ensureUser(ctx, username); err != nil {
		return err
	}
	return s.exec(ctx, "store.SetSellPrice.Exec: ",
		`UPDATE config SET sell_price_msat = $1 WHERE username = $2`, priceMsat, username)
}

// ClearSellPrice reverts username to the node default price.
func (s *Store) ClearSellPrice(ctx context.Context, username string) error {
	if err := s.ensureUser(ctx, username); err != nil {
		return err
	}
	return s.exec(ctx, "store.ClearSellPrice.Exec: ",
		`UPDATE config SET sell_price_msat = NULL WHERE username = $1`, username)
}
