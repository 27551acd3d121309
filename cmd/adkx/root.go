package main

import (
	"fmt"

	"github.com/metalagman/adkx/internal/config"
	"github.com/metalagman/adkx/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries the persistent flags and the viper instance shared by the
// subcommands of one invocation.
type cli struct {
	cfgFile  string
	envFiles []string
	debug    bool

	v        *viper.Viper
	newModel modelFactory
}

// newRootCmd builds the command tree. newModel builds the model of the
// configured backend.
func newRootCmd(newModel modelFactory) *cobra.Command {
	c := &cli{v: viper.New(), newModel: newModel}
	root := &cobra.Command{
		Use:           "adkx",
		Short:         "adkx runs agent apps with Gemini context caching",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			logging.Init(c.debug)
			return config.LoadDotEnv(c.envFiles...)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", config.DefaultPath, "config file path")
	flags.StringSliceVar(&c.envFiles, "env-file", nil, "env files to load (default .env)")
	flags.BoolVar(&c.debug, "debug", false, "enable debug logging")
	flags.String("app", "", "app to run, overrides the config")
	flags.String("model", "", "model name, overrides the config")
	for _, key := range []string{"app", "model"} {
		if err := c.v.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(fmt.Sprintf("bind %s flag: %v", key, err))
		}
	}

	root.AddCommand(
		appsCmd(),
		runCmd(c),
		chatCmd(c),
		serveCmd(c),
		cacheCmd(c),
		experimentCmd(c),
		configCmd(c),
		sessionsCmd(c),
		runsCmd(c),
	)
	return root
}

// loadConfig reads the config file selected by --config. Flags bound to
// viper take precedence over the file and the environment.
func (c *cli) loadConfig() (config.Config, error) {
	return config.Load(c.v, c.cfgFile)
}
