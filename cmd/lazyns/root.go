package main

import (
	"fmt"

	"lazyns/internal/config"
	"lazyns/internal/inflect"
	"lazyns/internal/loader"
	"lazyns/internal/logging"
	"lazyns/internal/namespace"
	"lazyns/internal/state"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app is a loader configured and set up from the configuration.
type app struct {
	cfg    *config.Config
	loader *loader.Loader
	root   *namespace.Namespace
	state  *state.Manager
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lazyns",
		Short: "Map directory trees onto lazily resolved namespaces",
		Long: `lazyns maps the files of one or more root directories onto a tree of
namespaces. Every file defines a binding named after it; every directory
with source files becomes a nested namespace. Bindings are resolved the
first time they are looked up.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is ./lazyns.yaml)")
	flags.StringSlice("root", nil, "root directory, may be repeated (overrides roots in the config file)")
	flags.String("log-level", "", "log level: error, warn, info, debug or trace")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.Bool("eager", false, "eager load every binding after setup")
	flags.Bool("reloading", false, "enable reloading")

	cmd.AddCommand(
		newTreeCmd(),
		newGetCmd(),
		newExpectedCmd(),
		newCheckCmd(),
		newMountCmd(),
	)
	return cmd
}

// bindFlags overlays the flags the user set on the viper configuration.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"log-level": "logging.level",
		"eager":     "eager",
		"reloading": "reloading",
	}
	for flag, key := range bindings {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	if verbose, _ := flags.GetBool("verbose"); verbose && !flags.Changed("log-level") {
		v.Set("logging.level", "debug")
	}
	if roots, _ := flags.GetStringSlice("root"); len(roots) > 0 {
		entries := make([]map[string]any, len(roots))
		for i, r := range roots {
			entries[i] = map[string]any{"path": r}
		}
		v.Set("roots", entries)
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	v, err := config.New(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logger.SetLevel(level)
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("Using config file: %s", used)
	}
	return cfg, nil
}

// newApp loads the configuration, builds the loader and runs setup, and
// eager loads when configured to.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	inflector := inflect.New()
	inflector.Inflect(cfg.Inflections)

	opts := []loader.Option{
		loader.WithLogger(logger.WithPrefix("loader").Sink()),
		loader.WithInflector(inflector),
	}
	if cfg.Tag != "" {
		opts = append(opts, loader.WithTag(cfg.Tag))
	}
	l := loader.New(opts...)

	a := &app{cfg: cfg, loader: l, root: namespace.NewRoot()}
	if err := a.configure(); err != nil {
		l.Unregister()
		return nil, err
	}

	if cfg.State.Path != "" {
		if a.state, err = state.NewManager(cfg.State.Path, cfg.State.Backups); err != nil {
			l.Unregister()
			return nil, err
		}
	}

	if err := l.Setup(); err != nil {
		l.Unregister()
		return nil, err
	}
	if cfg.Eager {
		if err := l.EagerLoad(); err != nil {
			l.Unregister()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) configure() error {
	l := a.loader
	if err := l.Ignore(a.cfg.Ignore...); err != nil {
		return err
	}
	if err := l.Collapse(a.cfg.Collapse...); err != nil {
		return err
	}
	if err := l.ExcludeFromEagerLoad(a.cfg.EagerExclude...); err != nil {
		return err
	}
	if a.cfg.Reloading {
		if err := l.EnableReloading(); err != nil {
			return err
		}
	}
	for _, rc := range a.cfg.Roots {
		ns, err := namespaceFor(a.root, rc.Namespace)
		if err != nil {
			return err
		}
		if err := l.Push(rc.Path, ns); err != nil {
			return err
		}
	}
	return nil
}

// saveManifest writes the manifest when a state path is configured and
// returns it.
func (a *app) saveManifest() (*state.Manifest, error) {
	m, err := state.Capture(a.loader)
	if err != nil {
		return nil, err
	}
	if a.state != nil {
		if err := a.state.Save(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (a *app) close() {
	if err := a.loader.Unload(); err != nil {
		logger.Warn("Unload: %v", err)
	}
	a.loader.Unregister()
}

// namespaceFor returns the namespace at path below top, defining empty
// namespaces for missing names.
func namespaceFor(top *namespace.Namespace, path string) (*namespace.Namespace, error) {
	ns := top
	for _, name := range namespace.Split(path) {
		v, ok := ns.Get(name)
		if !ok {
			child := namespace.New()
			if err := ns.Define(name, child); err != nil {
				return nil, err
			}
			ns = child
			continue
		}
		child, isNS := v.(*namespace.Namespace)
		if !isNS {
			return nil, fmt.Errorf("%w: %s", namespace.ErrNotNamespace, namespace.Join(ns.Path(), name))
		}
		ns = child
	}
	return ns, nil
}
