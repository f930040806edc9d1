package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rodrigopitanga/patchvec/internal/ingest"
)

// runWithApp wires the core, runs fn, and tears everything down so CLI
// invocations persist state exactly like the server would.
func runWithApp(fn func(a *app) error) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.shutdown()
	return fn(a)
}

func newCreateCollectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-collection <tenant> <collection>",
		Short: "Create a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(a *app) error {
				res, err := a.svc.CreateCollection(args[0], args[1])
				if err != nil {
					return emitServiceError(err)
				}
				return emit(res)
			})
		},
	}
}

func newIngestCmd() *cobra.Command {
	var docid, metadata, csvHasHeader, csvMetaCols, csvIncludeCols string
	cmd := &cobra.Command{
		Use:   "ingest <tenant> <collection> <file>",
		Short: "Ingest a document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[2])
			if err != nil {
				return err
			}
			var meta map[string]interface{}
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
					return fmt.Errorf("invalid --metadata JSON: %w", err)
				}
			}
			var csvOpts *ingest.CSVOptions
			if csvHasHeader != "" || csvMetaCols != "" || csvIncludeCols != "" {
				hasHeader := csvHasHeader
				if hasHeader == "" {
					hasHeader = "auto"
				}
				csvOpts = &ingest.CSVOptions{
					HasHeader:   hasHeader,
					MetaCols:    csvMetaCols,
					IncludeCols: csvIncludeCols,
				}
			}
			return runWithApp(func(a *app) error {
				res, err := a.svc.IngestDocument(context.Background(),
					args[0], args[1], filepath.Base(args[2]), content, docid, meta, csvOpts)
				if err != nil {
					return emitServiceError(err)
				}
				return emit(res)
			})
		},
	}
	cmd.Flags().StringVar(&docid, "docid", "", "document id (defaults to a filename-derived id)")
	cmd.Flags().StringVar(&metadata, "metadata", "", "metadata JSON object applied to every chunk")
	cmd.Flags().StringVar(&csvHasHeader, "csv-has-header", "", "CSV header handling: auto, yes, or no")
	cmd.Flags().StringVar(&csvMetaCols, "csv-meta-cols", "", "CSV columns stored as metadata only; names or 1-based indices")
	cmd.Flags().StringVar(&csvIncludeCols, "csv-include-cols", "", "CSV columns to index; defaults to all non-meta columns")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var k int
	var filters string
	cmd := &cobra.Command{
		Use:   "search <tenant> <collection> <query>",
		Short: "Run a similarity query",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filterMap map[string]interface{}
			if filters != "" {
				if err := json.Unmarshal([]byte(filters), &filterMap); err != nil {
					return fmt.Errorf("invalid --filters JSON: %w", err)
				}
			}
			return runWithApp(func(a *app) error {
				res, err := a.svc.Search(context.Background(),
					args[0], args[1], args[2], k, filterMap, false, "")
				if err != nil {
					return emitServiceError(err)
				}
				return emit(res)
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 5, "number of results")
	cmd.Flags().StringVar(&filters, "filters", "", `JSON object, e.g. {"docid":"DOC-1"}`)
	return cmd
}

func newDeleteCollectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-collection <tenant> <collection>",
		Short: "Delete a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(a *app) error {
				res, err := a.svc.DeleteCollection(context.Background(), args[0], args[1])
				if err != nil {
					return emitServiceError(err)
				}
				return emit(res)
			})
		},
	}
}

func newRenameCollectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename-collection <tenant> <old> <new>",
		Short: "Rename a collection",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(a *app) error {
				res, err := a.svc.RenameCollection(args[0], args[1], args[2])
				if err != nil {
					return emitServiceError(err)
				}
				return emit(res)
			})
		},
	}
}

func newDeleteDocumentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-document <tenant> <collection> <docid>",
		Short: "Delete a document and all of its chunks",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(a *app) error {
				res, err := a.svc.DeleteDocument(context.Background(), args[0], args[1], args[2])
				if err != nil {
					return emitServiceError(err)
				}
				return emit(res)
			})
		},
	}
}

func newDumpArchiveCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "dump-archive",
		Short: "Write a ZIP archive of the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(a *app) error {
				out := output
				if out == "" {
					stamp := time.Now().UTC().Format("20060102T150405Z")
					out = fmt.Sprintf("patchvec-data-%s.zip", stamp)
				}
				archivePath, _, err := a.svc.DumpArchive(out)
				if err != nil {
					return emitServiceError(err)
				}
				return emit(map[string]interface{}{
					"ok":      true,
					"archive": archivePath,
					"source":  a.cfg.DataDir,
				})
			})
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "destination ZIP file path")
	return cmd
}

func newRestoreArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore-archive <file>",
		Short: "Restore the data directory from a ZIP archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return runWithApp(func(a *app) error {
				res, err := a.svc.RestoreArchive(content)
				if err != nil {
					return emitServiceError(err)
				}
				return emit(res)
			})
		},
	}
}

func newResetMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-metrics",
		Short: "Zero all counters and latency windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(a *app) error {
				return emit(a.svc.Metrics.Reset())
			})
		},
	}
}

func newListTenantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-tenants",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(a *app) error {
				res, err := a.svc.ListTenants()
				if err != nil {
					return emitServiceError(err)
				}
				return emit(res)
			})
		},
	}
}

func newListCollectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-collections <tenant>",
		Short: "List a tenant's collections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(func(a *app) error {
				res, err := a.svc.ListCollections(args[0])
				if err != nil {
					return emitServiceError(err)
				}
				return emit(res)
			})
		},
	}
}
