package main

import (
	"fmt"
	"time"

	"github.com/metalagman/adkx/internal/experiment"
	"github.com/metalagman/adkx/internal/report"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func experimentCmd(c *cli) *cobra.Command {
	var (
		appName      string
		iterations   int
		cachedFirst  bool
		requestDelay time.Duration
		variantPause time.Duration
		runPause     time.Duration
		output       string
		promptsPath  string
	)
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "Compare an app with and without context caching",
		Long: "Replay a prompt set against the app with caching enabled and disabled, " +
			"average the cache reports over the iterations and write them as JSON. " +
			"With sqlite storage every run is recorded and listed by 'adkx runs list'.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := c.open(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			prompts, err := experiment.LoadPromptSet(promptsPath)
			if err != nil {
				return err
			}
			exp, err := experiment.New(experiment.Config{
				App:          appName,
				Model:        e.model,
				Cache:        e.cfg.CacheSettings(),
				Prompts:      prompts,
				Iterations:   iterations,
				RequestDelay: requestDelay,
				VariantPause: variantPause,
				RunPause:     runPause,
				CachedFirst:  cachedFirst,
				Store:        e.storage.store,
			})
			if err != nil {
				return err
			}

			log.Info().Str("app", appName).Str("model", e.model.Name()).Int("iterations", iterations).
				Int("prompts", len(prompts.Prompts)).Msg("experiment: starting")
			sum, err := exp.Run(ctx)
			if err != nil {
				return fmt.Errorf("experiment %s: %w", sum.RunID, err)
			}

			if output == "" {
				output = experiment.DefaultOutput(e.model.Name())
			}
			if err := experiment.Save(output, sum); err != nil {
				return err
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), report.Experiment(report.DefaultStyles(), sum)); err != nil {
				return err
			}
			log.Info().Str("run_id", sum.RunID).Str("output", output).Dur("took", sum.Duration).Msg("experiment: done")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&appName, "compare-app", "cache_analysis", "app to compare")
	f.IntVar(&iterations, "repeat", 1, "number of cached/uncached run pairs")
	f.BoolVar(&cachedFirst, "cached-first", false, "run the cached variant first in every iteration")
	f.DurationVar(&requestDelay, "request-delay", 2*time.Second, "pause between prompts")
	f.DurationVar(&variantPause, "variant-pause", 5*time.Second, "pause between the two variants")
	f.DurationVar(&runPause, "run-pause", 10*time.Second, "pause between iterations")
	f.StringVarP(&output, "output", "o", "", "results file (default cache_<model>_results.json)")
	f.StringVar(&promptsPath, "prompts", "", "YAML prompt set (default: built-in cache_analysis prompts)")
	return cmd
}
