package cli

import (
	"context"
	"fmt"

	"bunny-chatter/internal/config"
	"bunny-chatter/internal/logging"
	"bunny-chatter/internal/session"
	"bunny-chatter/internal/storage"
)

// openStore picks the session store backend named by STORE_DRIVER. The
// returned close function is always safe to call.
func openStore(cfg *config.Config, log *logging.Logger) (session.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		s, err := storage.OpenSQLiteStore(cfg.SQLitePath, log)
		if err != nil {
			return nil, func() {}, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("using SQLite session store")
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Msg("closing session database")
			}
		}, nil
	case config.StoreFile:
		s, err := storage.NewFileStore(cfg.StorePath)
		if err != nil {
			return nil, func() {}, err
		}
		log.Info().Str("path", s.Path()).Msg("using file session store")
		return s, func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func openRegistry(ctx context.Context, cfg *config.Config, log *logging.Logger) (*session.Registry, func(), error) {
	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		return nil, closeStore, err
	}
	reg, err := session.NewRegistry(ctx, store, cfg.AccountTag,
		session.WithMaxTurns(cfg.MaxHistoryTurns),
		session.WithLogger(log.Sub("sessions")),
	)
	if err != nil {
		closeStore()
		return nil, func() {}, err
	}
	return reg, closeStore, nil
}
