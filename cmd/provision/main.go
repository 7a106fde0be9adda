// Command provision creates the record store table and the events queue
// ahead of a deployment. The server performs the same steps on startup;
// running them separately keeps cold starts short.
package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"tasklist-api/config"
	"tasklist-api/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("provisioning starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if cfg.Store.Persistent() {
		store, err := storage.Open(ctx, cfg.Store)
		if err != nil {
			log.Fatalf("store %s: %v", cfg.Store.Backend, err)
		}
		if err := store.Close(ctx); err != nil {
			log.WithError(err).Warn("store close")
		}
		log.Infof("store %s ready: %s", cfg.Store.Backend, cfg.Store.Table)
	} else {
		log.Info("memory backend needs no provisioning")
	}

	if cfg.Events.Enabled() {
		if _, err := storage.NewQueuePublisher(ctx, cfg.Events.ConnectionString, cfg.Events.Queue); err != nil {
			log.Fatalf("events queue: %v", err)
		}
		log.Infof("events queue ready: %s", cfg.Events.Queue)
	}

	log.Info("provisioning complete")
}
