package app

import (
	"fmt"

	"github.com/dokzlo13/fideliod/internal/config"
	"github.com/dokzlo13/fideliod/internal/db"
	"github.com/dokzlo13/fideliod/internal/ledger"
	"github.com/dokzlo13/fideliod/internal/storage"
)

// OneShot is a single speaker built for a CLI command, sharing the daemon's
// database so stored snapshots and the ledger stay consistent.
type OneShot struct {
	*Unit
	db *db.DB
}

// OpenSpeaker builds the named speaker without starting any service.
// Observers write synchronously to the snapshot store and the ledger.
func OpenSpeaker(cfg *config.Config, name string) (*OneShot, error) {
	sc, ok := cfg.Speaker(name)
	if !ok {
		return nil, fmt.Errorf("speaker %q is not configured", name)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	store := storage.NewStore(database.DB)
	unit := NewUnit(sc, store, nil)
	unit.Speaker.AddObserver(store)
	if cfg.Ledger.Enabled {
		unit.Speaker.AddObserver(ledger.New(database.DB))
	}
	return &OneShot{Unit: unit, db: database}, nil
}

// Close releases the speaker and the database.
func (o *OneShot) Close() {
	o.Unit.Close()
	o.db.Close()
}

// ResetState forgets the stored snapshot of every configured speaker, so they
// start from their configured seed.
func ResetState(cfg *config.Config) error {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	store := storage.NewStore(database.DB)
	for _, sc := range cfg.Speakers {
		if err := store.Delete(sc.Name); err != nil {
			return err
		}
	}
	return nil
}
