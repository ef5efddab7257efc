// Command plainkv is a smoke-test harness for the storage core: it loads a
// YAML config, opens the store and runs a small put/get/delete workload.
// The engine itself is a library; there is no client-facing surface here.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"plainkv/pkg/config"
	"plainkv/pkg/store"
)

func main() {
	configPath := flag.String("config", "plainkv.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	initLogger(&cfg)

	if err := run(cfg); err != nil {
		slog.Error("smoke workload failed", "error", err)
		os.Exit(1)
	}
	slog.Info("smoke workload finished")
}

func run(cfg config.Config) error {
	s, err := store.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	pairs := map[string]string{
		"fruit:0001:lime":   "Lime Smoothie",
		"fruit:0002:orange": "Orange Smoothie",
		"fruit:0003:apple":  "Apple Smoothie",
	}

	for k, v := range pairs {
		if err := s.Put([]byte(k), []byte(v)); err != nil {
			return fmt.Errorf("put %s: %w", k, err)
		}
	}

	for k, want := range pairs {
		got, found, err := s.Get([]byte(k))
		if err != nil {
			return fmt.Errorf("get %s: %w", k, err)
		}
		if !found || string(got) != want {
			return fmt.Errorf("get %s: got %q, want %q", k, got, want)
		}
		slog.Info("read back", "key", k, "value", string(got))
	}

	if err := s.Delete([]byte("fruit:0002:orange")); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if _, found, err := s.Get([]byte("fruit:0002:orange")); err != nil {
		return err
	} else if found {
		return fmt.Errorf("deleted key still visible")
	}

	return nil
}
