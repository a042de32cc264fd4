package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/Veraticus/receipt-reconciler/internal/automation"
	"github.com/Veraticus/receipt-reconciler/internal/common"
	"github.com/Veraticus/receipt-reconciler/internal/config"
	"github.com/Veraticus/receipt-reconciler/internal/engine"
	"github.com/Veraticus/receipt-reconciler/internal/learning"
	"github.com/Veraticus/receipt-reconciler/internal/pattern"
	"github.com/Veraticus/receipt-reconciler/internal/storage"
)

// app holds the components shared by the commands.
type app struct {
	cfg        *config.Config
	store      *storage.SQLiteStore
	learner    *learning.Engine
	supervisor *automation.Supervisor
	engine     *engine.Engine
}

// openApp loads the configuration, opens and migrates the database and
// wires the engines. dispatcher may be nil to run side effects inline.
func openApp(ctx context.Context, trigger automation.Trigger, dispatcher engine.Dispatcher) (*app, func(), error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	learner := learning.NewWithConfig(store, learning.Config{
		PartnerFloor:  cfg.Matching.PartnerFloor,
		CategoryFloor: cfg.Matching.CategoryFloor,
		MaxRemovals:   pattern.MaxRemovals,
	})
	supervisor := automation.New(store, trigger, automation.Config{
		StaleAfter:    cfg.Automation.StaleAfter,
		RunStaleAfter: cfg.Automation.RunStaleAfter,
		MaxRetries:    cfg.Automation.MaxRetries,
	})
	eng := engine.NewWithConfig(store, learner, supervisor, dispatcher, engine.Config{
		TieBreak: cfg.Matching.TieBreak,
	})

	a := &app{
		cfg:        cfg,
		store:      store,
		learner:    learner,
		supervisor: supervisor,
		engine:     eng,
	}
	return a, func() { _ = store.Close() }, nil
}

// currentUser returns the user the command acts as.
func currentUser() (string, error) {
	user := strings.TrimSpace(viper.GetString("user"))
	if user == "" {
		return "", fmt.Errorf("%w: set --user or RECON_USER", common.ErrMissingConfig)
	}
	return user, nil
}
