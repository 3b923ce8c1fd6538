package di

import (
	"fmt"

	"specpilot/internal/agent/ports"
	"specpilot/internal/config"
	"specpilot/internal/session/filestore"
	"specpilot/internal/session/memstore"
	"specpilot/internal/session/sqlitestore"
	"specpilot/internal/shared/logging"
)

func (b *containerBuilder) buildSessionStore() (ports.SessionStore, error) {
	path := b.config.Session.Path
	switch b.config.Session.Kind {
	case config.StoreFile:
		store, err := filestore.New(path, logging.NewComponentLogger("session-filestore"))
		if err != nil {
			return nil, fmt.Errorf("open file session store: %w", err)
		}
		b.logger.Info("Session persistence backed by files in %s", path)
		return store, nil
	case config.StoreSQLite:
		store, err := sqlitestore.Open(path, logging.NewComponentLogger("session-sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite session store: %w", err)
		}
		b.logger.Info("Session persistence backed by SQLite at %s", path)
		return store, nil
	case config.StoreMemory, "":
		b.logger.Info("Session persistence is in-memory; sessions end with the process")
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown session store kind %q", b.config.Session.Kind)
	}
}
