package coremain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pmkol/locres/mlog"
	"github.com/pmkol/locres/pkg/cache/mem_cache"
	"github.com/pmkol/locres/pkg/location"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

type cliFlags struct {
	c       string
	output  string
	timeout time.Duration
}

func (f *cliFlags) bind(c *cobra.Command) {
	fs := c.PersistentFlags()
	fs.StringVarP(&f.c, "config", "c", "", "config file")
	fs.StringVarP(&f.output, "output", "o", outputJSON, "output format, json or yaml")
	fs.DurationVar(&f.timeout, "timeout", 30*time.Second, "overall timeout")
}

// withLocres loads the config, builds a Locres and restores the memory
// cache dump if one is configured. If persist is set, the dump is
// written back before returning.
func withLocres(f *cliFlags, persist bool, fn func(ctx context.Context, m *Locres) error) error {
	cfg, _, err := loadConfig(f.c)
	if err != nil {
		return fmt.Errorf("fail to load config, %w", err)
	}
	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	m, err := NewLocres(cfg, lg)
	if err != nil {
		return err
	}
	defer m.Close()

	mc, isMem := m.backend.(*mem_cache.MemCache)
	dumpFile := cfg.Cache.DumpFile
	if isMem && len(dumpFile) > 0 {
		if _, err := loadDump(mc, dumpFile); err != nil {
			lg.Warn("failed to load cache dump", zap.String("file", dumpFile), zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := fn(ctx, m); err != nil {
		return err
	}

	if persist && isMem && len(dumpFile) > 0 {
		if _, err := writeDump(mc, dumpFile); err != nil {
			return fmt.Errorf("failed to write cache dump, %w", err)
		}
	}
	return nil
}

func printOutput(w io.Writer, format string, v any) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func newLookupCmd() *cobra.Command {
	f := new(cliFlags)
	c := &cobra.Command{
		Use:   "lookup",
		Short: "Look up countries, states or cities once and print them.",
	}
	f.bind(c)

	c.AddCommand(
		&cobra.Command{
			Use:   "countries",
			Short: "List countries.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLocres(f, true, func(ctx context.Context, m *Locres) error {
					v, err := m.resolver.Countries(ctx)
					if err != nil {
						return err
					}
					return printOutput(cmd.OutOrStdout(), f.output, v)
				})
			},
			SilenceUsage: true,
		},
		&cobra.Command{
			Use:   "states country",
			Short: "List the states of a country.",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLocres(f, true, func(ctx context.Context, m *Locres) error {
					v, err := m.resolver.States(ctx, args[0])
					if err != nil {
						return err
					}
					return printOutput(cmd.OutOrStdout(), f.output, v)
				})
			},
			SilenceUsage: true,
		},
		&cobra.Command{
			Use:   "cities country state",
			Short: "List the cities of a state.",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLocres(f, true, func(ctx context.Context, m *Locres) error {
					v, err := m.resolver.Cities(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					return printOutput(cmd.OutOrStdout(), f.output, v)
				})
			},
			SilenceUsage: true,
		},
	)
	return c
}

func newCacheCmd() *cobra.Command {
	f := new(cliFlags)
	c := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the configured location cache.",
	}
	f.bind(c)

	c.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print the number of cached entries per query type.",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLocres(f, false, func(ctx context.Context, m *Locres) error {
					return printOutput(cmd.OutOrStdout(), f.output, m.cache.Stats())
				})
			},
			SilenceUsage: true,
		},
		&cobra.Command{
			Use:   "clear [countries|states|cities]",
			Short: "Remove cached entries of one query type, or all of them.",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var qt location.QueryType
				if len(args) == 1 {
					var err error
					if qt, err = location.ParseQueryType(args[0]); err != nil {
						return err
					}
				}
				return withLocres(f, true, func(ctx context.Context, m *Locres) error {
					removed := m.cache.Clear(qt)
					return printOutput(cmd.OutOrStdout(), f.output, map[string]int{"removed": removed})
				})
			},
			SilenceUsage: true,
		},
	)
	return c
}
