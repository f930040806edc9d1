package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rodrigopitanga/patchvec/internal/admission"
	"github.com/rodrigopitanga/patchvec/internal/auth"
	"github.com/rodrigopitanga/patchvec/internal/config"
	"github.com/rodrigopitanga/patchvec/internal/engine/factory"
	"github.com/rodrigopitanga/patchvec/internal/metrics"
	"github.com/rodrigopitanga/patchvec/internal/opslog"
	"github.com/rodrigopitanga/patchvec/internal/service"
	"github.com/rodrigopitanga/patchvec/internal/store"
)

const version = "0.5.8"

var (
	flagConfig  string
	flagCompact bool
)

// app bundles the wired core for both the server and the CLI commands.
type app struct {
	cfg   *config.Config
	svc   *service.Service
	gate  *admission.Gate
	authn *auth.Authenticator

	closeEngine func() error
}

func buildApp() (*app, error) {
	path := flagConfig
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	newEngine, closeEngine, err := factory.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	ops, err := opslog.New(cfg.Log.OpsLog)
	if err != nil {
		closeEngine()
		return nil, err
	}

	st := store.New(cfg.DataDir, cfg.VectorStore.MaxQueryChars, newEngine)

	tenantLimits := make(map[string]int, len(cfg.Tenants.Limits))
	for tenant, lim := range cfg.Tenants.Limits {
		tenantLimits[tenant] = lim.MaxConcurrent
	}

	return &app{
		cfg: cfg,
		svc: &service.Service{
			Store:            st,
			Metrics:          metrics.New(cfg.DataDir),
			Ops:              ops,
			TxtChunkSize:     cfg.Preprocess.TxtChunkSize,
			TxtChunkOverlap:  cfg.Preprocess.TxtChunkOverlap,
			CommonEnabled:    cfg.CommonEnabled,
			CommonTenant:     cfg.CommonTenant,
			CommonCollection: cfg.CommonCollection,
		},
		gate: admission.New(admission.Config{
			MaxSearches:   cfg.Search.MaxConcurrent,
			MaxIngests:    cfg.Ingest.MaxConcurrent,
			SearchTimeout: time.Duration(cfg.Search.TimeoutMS) * time.Millisecond,
			TenantDefault: cfg.Tenants.DefaultMaxConcurrent,
			TenantLimits:  tenantLimits,
		}),
		authn:       auth.New(cfg.Auth),
		closeEngine: closeEngine,
	}, nil
}

// shutdown flushes metrics, closes the ops log, and releases engines.
func (a *app) shutdown() {
	a.svc.Metrics.Flush()
	a.svc.Ops.Close()
	a.svc.Store.Close()
	a.closeEngine()
}

// emit prints a CLI result as JSON, pretty unless --compact.
func emit(v interface{}) error {
	var (
		out []byte
		err error
	)
	if flagCompact {
		out, err = json.Marshal(v)
	} else {
		out, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// emitServiceError prints the error envelope and keeps exit status 1.
func emitServiceError(err error) error {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		emit(map[string]interface{}{
			"ok": false, "code": svcErr.Code, "error": svcErr.Message,
		})
		return err
	}
	return err
}

func main() {
	root := &cobra.Command{
		Use:           "patchvec",
		Short:         "Multi-tenant vector search microservice",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default $PATCHVEC_CONFIG or ~/patchvec/config.yml)")
	root.PersistentFlags().BoolVar(&flagCompact, "compact", false, "emit compact JSON for scripting")

	root.AddCommand(
		newServeCmd(),
		newCreateCollectionCmd(),
		newIngestCmd(),
		newSearchCmd(),
		newDeleteCollectionCmd(),
		newRenameCollectionCmd(),
		newDeleteDocumentCmd(),
		newDumpArchiveCmd(),
		newRestoreArchiveCmd(),
		newResetMetricsCmd(),
		newListTenantsCmd(),
		newListCollectionsCmd(),
	)

	if err := root.Execute(); err != nil {
		if _, isSvc := err.(*service.Error); !isSvc {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
