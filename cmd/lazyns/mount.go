package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"lazyns/internal/fs"
	"lazyns/internal/state"

	"github.com/spf13/cobra"
)

func newMountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mount [MOUNTPOINT]",
		Short: "Serve the namespace as a read-only filesystem",
		Long: `Serve the namespace as a read-only FUSE filesystem at MOUNTPOINT, or at
mount.point from the config file. Looking a file up resolves its binding.
SIGHUP reloads when reloading is enabled; SIGINT and SIGTERM unmount.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			mountPoint := a.cfg.Mount.Point
			if len(args) == 1 {
				mountPoint = args[0]
			}
			if mountPoint == "" {
				return errors.New("no mount point given")
			}
			return a.serve(mountPoint)
		},
	}
}

func (a *app) serve(mountPoint string) error {
	manifest, err := a.saveManifest()
	if err != nil {
		logger.Warn("Failed to write manifest: %v", err)
	}

	vfs := fs.New(a.root)
	if err := vfs.Mount(mountPoint); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	logger.Info("Namespace mounted at %s", mountPoint)
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				manifest = a.reload(manifest)
				continue
			}
			logger.Info("Received signal %v", sig)
			if err := vfs.Unmount(mountPoint); err != nil {
				return err
			}
		case <-vfs.Done():
			logger.Info("Clean shutdown complete")
			return nil
		}
	}
}

// reload reloads the loader and logs the bindings that appeared or went
// away since prev.
func (a *app) reload(prev *state.Manifest) *state.Manifest {
	logger.Info("Reloading")
	if err := a.loader.Reload(); err != nil {
		logger.Error("Reload failed: %v", err)
		return prev
	}
	if a.cfg.Eager {
		if err := a.loader.EagerLoad(); err != nil {
			logger.Error("Eager load failed: %v", err)
		}
	}

	next, err := a.saveManifest()
	if err != nil {
		logger.Warn("Failed to write manifest: %v", err)
		return prev
	}
	added, removed := state.Diff(prev, next)
	for _, b := range added {
		logger.Info("+ %s", b)
	}
	for _, b := range removed {
		logger.Info("- %s", b)
	}
	return next
}
