// Command storecheck creates, verifies and lists the record store files of a database directory.
package main

import (
	"context"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sharedcode/recordstore"
	"github.com/sharedcode/recordstore/format"
	"github.com/sharedcode/recordstore/fs"
	"github.com/sharedcode/recordstore/idgen"
	"github.com/sharedcode/recordstore/pagecache"
	"github.com/sharedcode/recordstore/stores"
)

type options struct {
	dir        string
	configPath string
	kinds      []string
}

func main() {
	recordstore.ConfigureLogging()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:          "storecheck",
		Short:        "Create, verify and list the record stores of a database directory",
		Version:      recordstore.Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.dir, "dir", "", "database directory")
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "JSON config file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringSliceVar(&opts.kinds, "kinds", nil, "store kinds to act on, all when empty")
	_ = rootCmd.MarkPersistentFlagRequired("dir")

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create missing store files and stamp their headers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpen(cmd.Context(), cmd.OutOrStdout(), opts, true)
		},
	}
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Open the stores read-only and validate their headers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpen(cmd.Context(), cmd.OutOrStdout(), opts, false)
		},
	}
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "List the store and id files of the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFiles(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	rootCmd.AddCommand(createCmd, verifyCmd, filesCmd)
	return rootCmd
}

func loadConfig(ctx context.Context, fio fs.FileIO, path string) (recordstore.Config, error) {
	if path == "" {
		return recordstore.DefaultConfig(), nil
	}
	return recordstore.LoadConfig(ctx, fio, path)
}

func parseKinds(names []string) ([]recordstore.StoreKind, error) {
	if len(names) == 0 {
		return recordstore.AllKinds(), nil
	}
	kinds := make([]recordstore.StoreKind, 0, len(names))
	for _, n := range names {
		k, err := recordstore.ParseStoreKind(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// runOpen opens the requested stores, reports them and closes everything again. create=false
// opens read-only, which validates every header without touching the files.
func runOpen(ctx context.Context, out io.Writer, opts *options, create bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fio := fs.NewFileIO()
	cfg, err := loadConfig(ctx, fio, opts.configPath)
	if err != nil {
		return err
	}
	kinds, err := parseKinds(opts.kinds)
	if err != nil {
		return err
	}
	rf, err := format.Select(cfg.RecordFormat)
	if err != nil {
		return err
	}

	bio := fs.NewBufferedIO()
	if cfg.UseDirectIO {
		bio = fs.NewDirectIO()
	}
	logger := log.Default()
	pc := pagecache.New(pagecache.Config{Frames: cfg.PageCacheFrames, BlockIO: bio, Logger: logger})
	c, err := stores.OpenStores(ctx, stores.Params{
		Layout:       fs.NewLayout(opts.dir),
		PageCache:    pc,
		IDGenerators: idgen.NewFactory(fio, cfg.RecoveryStrategy(), logger),
		Format:       rf,
		FileIO:       fio,
		PageSize:     cfg.PageSize,
		Logger:       logger,
	}, kinds, cfg.OpenOptions(create, !create))
	if err != nil {
		if cerr := pc.Close(ctx); cerr != nil {
			logger.Error("page cache still holds mappings after failed open", "error", cerr)
		}
		return err
	}

	for _, k := range c.Kinds() {
		rs, err := c.Store(k)
		if err != nil {
			return err
		}
		h := rs.Header()
		fmt.Fprintf(out, "%-26s %-8s record_size=%-4d high_id=%-8d %s\n",
			k, h.FormatVersion, h.RecordSize, rs.HighID(), rs.StorageFile())
	}

	if err := c.Close(ctx); err != nil {
		return err
	}
	return pc.Close(ctx)
}

func runFiles(ctx context.Context, out io.Writer, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	kinds, err := parseKinds(opts.kinds)
	if err != nil {
		return err
	}
	fio := fs.NewFileIO()
	layout := fs.NewLayout(opts.dir)
	for _, k := range kinds {
		for _, path := range []string{layout.StoreFile(k), layout.IDFile(k)} {
			state := "missing"
			if fi, err := fio.Stat(ctx, path); err == nil {
				state = fmt.Sprintf("%d bytes", fi.Size())
			}
			fmt.Fprintf(out, "%-26s %-12s %s\n", k, state, path)
		}
	}
	return nil
}
