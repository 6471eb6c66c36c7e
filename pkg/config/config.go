// Package config handles configuration for the Skuld CLI and embedding
// hosts via environment variables.
//
// All variables are prefixed SKULD_. The client context (app id, channel,
// locale, custom attributes) can additionally be loaded from a yaml file,
// which is what the CLI uses so QA can describe a synthetic client in one
// place.
//
// Environment Variables:
//   - SKULD_DATA_DIR: state store directory (default "./data/skuld")
//   - SKULD_CONTEXT_FILE: yaml file describing the client app context
//   - SKULD_CATALOG_URL: collection endpoint for fetch
//   - SKULD_COENROLLING_FEATURES: comma-separated coenrolling feature ids
//   - SKULD_OTEL_ENDPOINT: OTLP/gRPC metrics endpoint (empty disables)
//   - SKULD_OTEL_INSECURE: "true" to skip TLS on the OTLP connection
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	appCtx, err := config.LoadContextFile(cfg.ContextFile)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/skuld/pkg/catalog"
	"github.com/orneryd/skuld/pkg/targeting"
)

// Config holds everything loaded from the environment.
type Config struct {
	DataDir             string
	ContextFile         string
	CatalogURL          string
	CoenrollingFeatures []catalog.FeatureID
	OTelEndpoint        string
	OTelInsecure        bool
}

// LoadFromEnv reads SKULD_* environment variables, applying defaults for
// anything unset.
func LoadFromEnv() Config {
	cfg := Config{
		DataDir:      envOr("SKULD_DATA_DIR", "./data/skuld"),
		ContextFile:  os.Getenv("SKULD_CONTEXT_FILE"),
		CatalogURL:   os.Getenv("SKULD_CATALOG_URL"),
		OTelEndpoint: os.Getenv("SKULD_OTEL_ENDPOINT"),
	}
	cfg.OTelInsecure, _ = strconv.ParseBool(os.Getenv("SKULD_OTEL_INSECURE"))
	if raw := os.Getenv("SKULD_COENROLLING_FEATURES"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				cfg.CoenrollingFeatures = append(cfg.CoenrollingFeatures, catalog.FeatureID(id))
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadContextFile reads a yaml app context description. An empty path
// yields a zero context without error, so the CLI works with no file at
// all.
//
// Example file:
//
//	app_name: fenix
//	app_id: org.mozilla.fenix
//	channel: release
//	locale: en-US
//	custom_targeting_attributes:
//	  is_default_browser: true
func LoadContextFile(path string) (targeting.AppContext, error) {
	var appCtx targeting.AppContext
	if path == "" {
		return appCtx, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return appCtx, fmt.Errorf("reading context file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &appCtx); err != nil {
		return appCtx, fmt.Errorf("parsing context file %q: %w", path, err)
	}
	return appCtx, nil
}
