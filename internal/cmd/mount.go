package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dendrascience/jsonfs/jsonfs"
	"github.com/dendrascience/jsonfs/version"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewMountCmd creates and returns the mount subcommand for the jsonfs CLI.
// It handles mounting a storage document at a specified mountpoint.
func NewMountCmd() *cobra.Command {
	var cfg jsonfs.MountConfig

	cmd := &cobra.Command{
		Use:   "mount STORAGE_FILE MOUNTPOINT",
		Short: "Mount a jsonfs filesystem",
		Long: `Mount a jsonfs filesystem at the specified mountpoint.

STORAGE_FILE is the path to the JSON storage document. It is created with an
empty root directory if it does not exist.
MOUNTPOINT is the directory where the filesystem will be mounted.`,
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			cfg.StoragePath = args[0]
			cfg.Mountpoint = args[1]
			runMount(cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.AllowOther, "allow-other", false, "Allow other users to access the mount")
	cmd.Flags().StringVar(&cfg.FSName, "fsname", jsonfs.DefaultFSName, "Source name shown in the mount table")
	cmd.Flags().BoolVar(&cfg.ReadOnly, "read-only", false, "Mount read-only")

	return cmd
}

func runMount(cfg jsonfs.MountConfig) {
	fmt.Printf("jsonfs %s starting...\n", version.GetFullVersion())

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid mount configuration: %v", err)
	}
	if pathsOverlap(cfg.StoragePath, cfg.Mountpoint) {
		log.Fatalf("Storage file %s must not be inside mountpoint %s", cfg.StoragePath, cfg.Mountpoint)
	}

	engine, err := jsonfs.NewEngine(cfg.StoragePath)
	if err != nil {
		log.Fatalf("Failed to open storage document: %v", err)
	}
	filesystem := jsonfs.NewFS(engine, cfg.ReadOnly)

	c, err := fuse.Mount(cfg.Mountpoint, cfg.Options()...)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Infow("received signal, unmounting", "signal", sig.String(), "mountpoint", cfg.Mountpoint)
		if err := fuse.Unmount(cfg.Mountpoint); err != nil {
			logger.Errorw("unmount failed", "mountpoint", cfg.Mountpoint, "err", err)
		}
	}()

	mode := "read-write"
	if cfg.ReadOnly {
		mode = "read-only"
	}
	color.New(color.FgGreen).Printf("jsonfs %s mounted at %s (storage: %s, %s)\n",
		version.GetVersion(), cfg.Mountpoint, cfg.StoragePath, mode)

	if err := fs.Serve(c, filesystem); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Shutdown complete")
}

// pathsOverlap reports whether either path is the same as, or lies beneath,
// the other.
func pathsOverlap(path1, path2 string) bool {
	abs1, err := filepath.Abs(path1)
	if err != nil {
		abs1 = filepath.Clean(path1)
	}
	abs2, err := filepath.Abs(path2)
	if err != nil {
		abs2 = filepath.Clean(path2)
	}
	return within(abs1, abs2) || within(abs2, abs1)
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
