package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/daeun-ops/promql-assistant-cli/internal/cache"
	"github.com/daeun-ops/promql-assistant-cli/internal/config"
	"github.com/daeun-ops/promql-assistant-cli/internal/engine"
	apperrors "github.com/daeun-ops/promql-assistant-cli/internal/errors"
	"github.com/daeun-ops/promql-assistant-cli/internal/history"
	"github.com/daeun-ops/promql-assistant-cli/internal/observability"
	"github.com/daeun-ops/promql-assistant-cli/internal/promapi"
	"github.com/daeun-ops/promql-assistant-cli/internal/render"
	"github.com/daeun-ops/promql-assistant-cli/internal/rulepack"
	"github.com/daeun-ops/promql-assistant-cli/internal/server"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// rangeRe mirrors the engine's range grammar so a bad --range value warns
// instead of silently falling back to the default
var rangeRe = regexp.MustCompile(`^\d+[smhdw]$`)

// Exit codes: 1 for operational failures, 2 for phrases the rule table
// cannot translate. Scripts can distinguish "backend broken" from "phrase
// not understood".
type cliError struct {
	code int
	err  error
}

func (e cliError) Error() string { return e.err.Error() }

func main() {
	root := newRootCommand()
	root.SilenceUsage = true
	root.SilenceErrors = true
	if err := root.Execute(); err != nil {
		code := 1
		if ce, ok := err.(cliError); ok {
			code = ce.code
			err = ce.err
		}
		if codedErr, ok := err.(*apperrors.CodedError); ok {
			fmt.Fprintln(os.Stderr, codedErr.UserMessage())
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(code)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "promql-assistant",
		Short: "Translate natural-language monitoring questions into PromQL",
	}
	root.AddCommand(newAskCommand())
	root.AddCommand(newSuggestCommand())
	root.AddCommand(newHistoryCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newConfigPathCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func loadConfig(ctx context.Context, serverOverride string) (*config.Config, error) {
	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		return nil, err
	}
	if serverOverride != "" {
		cfg.Backend.URL = serverOverride
	}
	return cfg, nil
}

func buildEngine(cfg *config.Config) (*engine.Engine, error) {
	packRules, err := rulepack.Load(cfg.Rules.PackPath)
	if err != nil {
		return nil, err
	}
	return engine.New(
		engine.WithCatalog(engine.Catalog{
			RequestsMetric: cfg.Catalog.RequestsMetric,
			LatencyMetric:  cfg.Catalog.LatencyMetric,
			ServiceLabel:   cfg.Catalog.ServiceLabel,
		}),
		engine.WithExtraRules(packRules),
	)
}

func buildBackend(cfg *config.Config) *promapi.BreakerClient {
	client := promapi.NewClient(cfg.Backend.URL, promapi.AuthConfig{
		Type:        cfg.Backend.AuthType,
		Username:    cfg.Backend.Username,
		Password:    cfg.Backend.Password,
		BearerToken: cfg.Backend.BearerToken,
		TenantID:    cfg.Backend.TenantID,
	}, cfg.Backend.Timeout)
	return promapi.NewBreakerClient(client, "prometheus", promapi.DefaultBreakerConfig)
}

func newAskCommand() *cobra.Command {
	var serverURL, timeRange, format string
	var dryRun, explain, validate bool

	cmd := &cobra.Command{
		Use:   "ask <phrase>",
		Short: "Translate a phrase and run the resulting query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !render.ValidFormat(format) {
				return fmt.Errorf("unsupported format %q (want table, json or promql)", format)
			}

			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, serverURL)
			if err != nil {
				return err
			}
			eng, err := buildEngine(cfg)
			if err != nil {
				return err
			}

			phrase := strings.Join(args, " ")
			if timeRange != "" {
				if !rangeRe.MatchString(timeRange) {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: cannot parse range %q, using the default\n", timeRange)
				}
				phrase += " last " + timeRange
			}

			translation, err := eng.Translate(phrase)
			if err != nil {
				if apperrors.HasCode(err, apperrors.ErrCodeNoMatch) {
					return cliError{code: 2, err: err}
				}
				return err
			}

			out := cmd.OutOrStdout()

			if explain {
				render.Explain(out, translation)
				return nil
			}
			if dryRun || format == render.FormatPromQL {
				switch format {
				case render.FormatJSON:
					return render.JSON(out, translation)
				case render.FormatPromQL:
					render.PromQL(out, translation)
				default:
					render.Translation(out, translation)
				}
				return nil
			}

			backend := buildBackend(cfg)
			if validate {
				if err := backend.Validate(ctx, translation.Query); err != nil {
					return err
				}
				fmt.Fprintf(out, "valid: %s\n", translation.Query)
				return nil
			}

			result, err := backend.Query(ctx, translation.Query, time.Now())
			if err != nil {
				return err
			}
			if format == render.FormatJSON {
				return render.JSON(out, map[string]interface{}{
					"query":  translation.Query,
					"result": result,
				})
			}

			render.Translation(out, translation)
			fmt.Fprintln(out)
			if result.ResultType == "matrix" {
				render.RangeResult(out, result, 0)
			} else {
				render.InstantResult(out, result)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Prometheus base URL (overrides configuration)")
	cmd.Flags().StringVar(&timeRange, "range", "", "time range appended to the phrase, e.g. 30m")
	cmd.Flags().StringVar(&format, "format", render.FormatTable, "output format (table|json|promql)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the query without executing it")
	cmd.Flags().BoolVar(&explain, "explain", false, "show which rule matched and how placeholders were bound")
	cmd.Flags().BoolVar(&validate, "validate", false, "ask the backend to parse the query without rendering results")
	return cmd
}

func newSuggestCommand() *cobra.Command {
	suggestCmd := &cobra.Command{
		Use:   "suggest",
		Short: "Discover metric and label names from the backend",
	}

	var serverURL string
	suggestCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Prometheus base URL (overrides configuration)")

	var prefix string
	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "List metric names",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, serverURL)
			if err != nil {
				return err
			}
			names, err := buildBackend(cfg).MetricNames(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				if prefix == "" || strings.HasPrefix(name, prefix) {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
			}
			return nil
		},
	}
	metricsCmd.Flags().StringVar(&prefix, "prefix", "", "only list metrics with this prefix")

	labelsCmd := &cobra.Command{
		Use:   "labels",
		Short: "List label names",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, serverURL)
			if err != nil {
				return err
			}
			names, err := buildBackend(cfg).LabelNames(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	var metric string
	labelValuesCmd := &cobra.Command{
		Use:   "label-values <label>",
		Short: "List the values of one label",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, serverURL)
			if err != nil {
				return err
			}
			var matchers []string
			if metric != "" {
				matchers = append(matchers, metric)
			}
			values, err := buildBackend(cfg).LabelValues(ctx, args[0], matchers...)
			if err != nil {
				return err
			}
			for _, value := range values {
				fmt.Fprintln(cmd.OutOrStdout(), value)
			}
			return nil
		},
	}
	labelValuesCmd.Flags().StringVar(&metric, "metric", "", "restrict values to series of this metric")

	suggestCmd.AddCommand(metricsCmd)
	suggestCmd.AddCommand(labelsCmd)
	suggestCmd.AddCommand(labelValuesCmd)
	return suggestCmd
}

func newHistoryCommand() *cobra.Command {
	var limit int
	var usage bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent translations recorded by the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, "")
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("translation history is not enabled; set PROMQL_HISTORY_ENABLED=true and configure PostgreSQL")
			}

			store, err := history.Open(cfg.History.DSN())
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if usage {
				counts, err := store.RuleUsage(ctx)
				if err != nil {
					return err
				}
				rules := make([]string, 0, len(counts))
				for rule := range counts {
					rules = append(rules, rule)
				}
				sort.Strings(rules)
				tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RULE\tCOUNT")
				for _, rule := range rules {
					fmt.Fprintf(tw, "%s\t%d\n", rule, counts[rule])
				}
				return tw.Flush()
			}

			entries, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tRULE\tPHRASE\tQUERY")
			for _, entry := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					entry.CreatedAt.Format(time.RFC3339), entry.RuleID, entry.Phrase, entry.Query)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to show")
	cmd.Flags().BoolVar(&usage, "usage", false, "show per-rule usage counts instead of entries")
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the translation HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, "")
			if err != nil {
				return err
			}

			logger := observability.NewLogger("promql-assistant").
				WithLevel(observability.ParseLevel(os.Getenv("LOG_LEVEL")))

			eng, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			backend := buildBackend(cfg)

			var translationCache *cache.TranslationCache
			if cfg.Cache.Enabled {
				translationCache = cache.New(redis.NewClient(&redis.Options{
					Addr:     cfg.Cache.Addr,
					Password: cfg.Cache.Password,
					DB:       cfg.Cache.DB,
				}), cfg.Cache.TTL)
			}

			var store *history.Store
			if cfg.History.Enabled {
				store, err = history.Open(cfg.History.DSN())
				if err != nil {
					return err
				}
				defer store.Close()
			}

			if cfg.Server.GinMode != "" {
				gin.SetMode(cfg.Server.GinMode)
			}

			srv, err := server.New(*cfg, eng, backend, translationCache, store, logger)
			if err != nil {
				return err
			}
			return srv.Run()
		},
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config-path",
		Short: "Print the configuration file location",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.Path())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "promql-assistant "+version)
		},
	}
}
