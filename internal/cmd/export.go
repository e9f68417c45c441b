package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dendrascience/jsonfs/util"
	"github.com/spf13/cobra"
)

// NewExportCmd creates and returns the export subcommand for the jsonfs CLI.
// It writes a storage document out as a host directory tree.
func NewExportCmd() *cobra.Command {
	var (
		storagePath string
		outputPath  string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a storage document out as a host directory tree",
		Long: `Write every directory and file of a storage document to a host directory.

Permission bits and access and modification times are restored. Ownership is
left to the user running the command. Existing files are never overwritten.`,
		Run: func(cmd *cobra.Command, args []string) {
			runExport(storagePath, outputPath, verbose)
		},
	}

	cmd.Flags().StringVarP(&storagePath, "path", "p", "", "Path to storage document (required)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path to output directory (required)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	cmd.MarkFlagRequired("path")
	cmd.MarkFlagRequired("output")

	return cmd
}

func runExport(storagePath, outputPath string, verbose bool) {
	tree, err := util.LoadTree(storagePath)
	if err != nil {
		log.Fatalf("Failed to load storage document: %v", err)
	}

	stats, err := exportTree(tree, outputPath)
	if err != nil {
		log.Fatalf("Export failed: %v", err)
	}

	if verbose {
		fmt.Printf("Export complete!\n")
		fmt.Printf("  Files: %d\n", stats.Files)
		fmt.Printf("  Directories: %d\n", stats.Dirs)
		fmt.Printf("  Output directory: %s\n", outputPath)
	}
}

// exportTree recreates tree beneath dir. Directory times are set last so
// writing their children does not disturb them.
func exportTree(tree *util.Tree, dir string) (convertStats, error) {
	var (
		stats convertStats
		dirs  []string
		times = make(map[string]*util.Attrs)
	)

	err := tree.Walk(func(p string, n util.Node) error {
		hostPath := filepath.Join(dir, filepath.FromSlash(p))
		attrs := n.Attr()
		switch n := n.(type) {
		case *util.Dir:
			if err := os.MkdirAll(hostPath, 0o700); err != nil {
				return err
			}
			dirs = append(dirs, hostPath)
			times[hostPath] = attrs
			stats.Dirs++
		case *util.File:
			f, err := os.OpenFile(hostPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, attrs.Perm())
			if err != nil {
				return err
			}
			if _, err := f.Write(n.Contents()); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			if err := os.Chmod(hostPath, attrs.Perm()); err != nil {
				return err
			}
			if err := os.Chtimes(hostPath, time.Unix(attrs.Atime, 0), time.Unix(attrs.Mtime, 0)); err != nil {
				return err
			}
			stats.Files++
			stats.Bytes += attrs.Size
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	for _, hostPath := range slices.Backward(dirs) {
		attrs := times[hostPath]
		if err := os.Chmod(hostPath, attrs.Perm()); err != nil {
			return stats, err
		}
		if err := os.Chtimes(hostPath, time.Unix(attrs.Atime, 0), time.Unix(attrs.Mtime, 0)); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
