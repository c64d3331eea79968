package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/erp/datasync/internal/domain/integration"
	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/erp/datasync/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type mappingOptions struct {
	*rootOptions
	Tenant string
	Kind   string
	File   string

	// import only
	Name    string
	Driver  string
	DSN     string
	Enabled bool
}

func newMappingCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Inspect and import tenant mapping documents",
	}
	cmd.AddCommand(newMappingColumnsCommand(rootOpts))
	cmd.AddCommand(newMappingShowCommand(rootOpts))
	cmd.AddCommand(newMappingImportCommand(rootOpts))
	return cmd
}

func newMappingColumnsCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &mappingOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "columns",
		Short: "List the source columns a mapping reads",
		Long: `List the minimal set of source columns a mapping document needs.

The document is read from --file (YAML or JSON) or from the stored mapping of
--tenant and --kind.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			raw, err := loadMapping(ctx, opts)
			if err != nil {
				return err
			}
			cfg, err := mapping.Parse(raw)
			if err != nil {
				return err
			}
			return printColumns(cmd.OutOrStdout(), opts.Format, mapping.CollectColumns(cfg))
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "mapping document (.yaml, .yml or .json)")
	cmd.Flags().StringVarP(&opts.Tenant, "tenant", "t", "", "tenant id of a stored mapping")
	cmd.Flags().StringVarP(&opts.Kind, "kind", "k", "", "entity kind of a stored mapping")
	return cmd
}

func newMappingShowCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &mappingOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored mapping of a tenant kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.File = ""
			raw, err := loadMapping(cmd.Context(), opts)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, raw, "", "  "); err != nil {
				return err
			}
			buf.WriteByte('\n')
			_, err = buf.WriteTo(cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.Tenant, "tenant", "t", "", "tenant id (required)")
	cmd.Flags().StringVarP(&opts.Kind, "kind", "k", "", "entity kind (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newMappingImportCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &mappingOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate a mapping document and store it for a tenant kind",
		Long: `Validate a mapping document and store it as the tenant's mapping of one
entity kind. The tenant integration is created when it does not exist yet, in
which case --driver and --dsn are required.

Example:
  syncer mapping import -t 6f1c... -k customers -f customers.yaml
  syncer mapping import -t 6f1c... -k orders -f orders.json --driver sqlserver --dsn "sqlserver://..."`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tenantID, err := uuid.Parse(opts.Tenant)
			if err != nil {
				return fmt.Errorf("invalid tenant id %q: %w", opts.Tenant, err)
			}
			kind, err := integration.ParseEntityKind(opts.Kind)
			if err != nil {
				return err
			}
			raw, err := readMappingFile(opts.File)
			if err != nil {
				return err
			}
			if _, err := mapping.Parse(raw); err != nil {
				return fmt.Errorf("mapping %s: %w", opts.File, err)
			}

			a, err := newApp(ctx, opts.rootOptions, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(context.WithoutCancel(ctx)) }()

			created, err := importMapping(ctx, a.stores.Integrations, tenantID, kind, raw, opts, cmd.Flags().Changed("enabled"))
			if err != nil {
				return err
			}
			a.log.Info("Mapping imported",
				zap.String("tenant_id", tenantID.String()),
				zap.String("kind", kind.String()),
				zap.Bool("integration_created", created),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s mapping for tenant %s\n", kind, tenantID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Tenant, "tenant", "t", "", "tenant id (required)")
	cmd.Flags().StringVarP(&opts.Kind, "kind", "k", "", "entity kind (required)")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "mapping document (.yaml, .yml or .json) (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "source system label")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "source driver (postgres|sqlserver)")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "source connection string")
	cmd.Flags().BoolVar(&opts.Enabled, "enabled", true, "include the tenant in run --all")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// importMapping stores raw as the mapping of kind, creating the integration
// when needed. Source settings given on the command line replace stored ones.
func importMapping(
	ctx context.Context,
	store integration.IntegrationStore,
	tenantID uuid.UUID,
	kind integration.EntityKind,
	raw json.RawMessage,
	opts *mappingOptions,
	enabledSet bool,
) (created bool, err error) {
	ti, err := store.Get(ctx, tenantID)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		if opts.Driver == "" || opts.DSN == "" {
			return false, fmt.Errorf("tenant %s has no integration yet: --driver and --dsn are required", tenantID)
		}
		ti = &integration.TenantIntegration{
			TenantID: tenantID,
			Enabled:  opts.Enabled,
		}
		created = true
	case err != nil:
		return false, err
	}

	if opts.Driver != "" {
		driver := integration.SourceDriver(strings.ToLower(opts.Driver))
		if !driver.IsValid() {
			return false, fmt.Errorf("unsupported source driver %q", opts.Driver)
		}
		ti.SourceDriver = driver
	}
	if opts.DSN != "" {
		ti.SourceDSN = opts.DSN
	}
	if opts.Name != "" {
		ti.Name = opts.Name
	}
	if enabledSet {
		ti.Enabled = opts.Enabled
	}
	if ti.Mappings == nil {
		ti.Mappings = map[integration.EntityKind]json.RawMessage{}
	}
	ti.Mappings[kind] = raw
	ti.UpdatedAt = time.Now()

	return created, store.Save(ctx, ti)
}

// loadMapping reads the document named by --file, or the stored mapping of
// --tenant and --kind.
func loadMapping(ctx context.Context, opts *mappingOptions) (json.RawMessage, error) {
	if opts.File != "" {
		return readMappingFile(opts.File)
	}
	if opts.Tenant == "" || opts.Kind == "" {
		return nil, errors.New("either --file or both --tenant and --kind are required")
	}
	tenantID, err := uuid.Parse(opts.Tenant)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id %q: %w", opts.Tenant, err)
	}
	kind, err := integration.ParseEntityKind(opts.Kind)
	if err != nil {
		return nil, err
	}

	a, err := newApp(ctx, opts.rootOptions, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.close(context.WithoutCancel(ctx)) }()

	ti, err := a.stores.Integrations.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load integration of tenant %s: %w", tenantID, err)
	}
	return ti.Mapping(kind)
}

func readMappingFile(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlToJSON(data)
	default:
		if !json.Valid(data) {
			return nil, fmt.Errorf("%s is not valid JSON", path)
		}
		return json.RawMessage(data), nil
	}
}

// yamlToJSON converts a YAML mapping document to the JSON form that is stored
func yamlToJSON(data []byte) (json.RawMessage, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		return nil, errors.New("empty mapping document")
	}
	return json.Marshal(jsonCompatible(doc))
}

// jsonCompatible rewrites maps with non-string keys, which encoding/json
// rejects.
func jsonCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, inner := range t {
			t[k] = jsonCompatible(inner)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, inner := range t {
			out[fmt.Sprint(k)] = jsonCompatible(inner)
		}
		return out
	case []interface{}:
		for i, inner := range t {
			t[i] = jsonCompatible(inner)
		}
		return t
	default:
		return v
	}
}

func printColumns(w io.Writer, format string, columns []string) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(columns)
	}
	for _, c := range columns {
		if _, err := fmt.Fprintln(w, c); err != nil {
			return err
		}
	}
	return nil
}
