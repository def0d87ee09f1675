// Command bridge exercises a modelbridge configuration from the command
// line: it lists the routing table, resolves model ids, shows the encoded
// backend payload of a request, sends requests through the configured
// backends and serves the dispatcher over HTTP.
//
// Configuration is read from --config, MODELBRIDGE_CONFIG,
// ./modelbridge.yaml or /etc/modelbridge/config.yaml, with MODELBRIDGE_*
// environment overrides.
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rhuss/modelbridge/pkg/config"
	"github.com/rhuss/modelbridge/pkg/debug"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "bridge",
		Short:         "Translate unified chat requests to backend model families",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newRoutesCmd(opts),
		newResolveCmd(opts),
		newEncodeCmd(opts),
		newSendCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// load reads the configuration and installs the logger it describes.
func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if o.verbose {
		level = "DEBUG"
	}
	debug.Setup(debug.Options{
		Categories: cfg.Logging.Debug,
		Level:      level,
		Format:     cfg.Logging.Format,
	})
	return cfg, nil
}

// bridge loads the configuration and assembles the components.
func (o *options) bridge() (*bridge, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return build(cfg, nil)
}
