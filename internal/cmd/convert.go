package cmd

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"syscall"

	"github.com/dendrascience/jsonfs/util"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewConvertCmd creates and returns the convert subcommand for the jsonfs CLI.
// It imports a host directory tree into a storage document.
func NewConvertCmd() *cobra.Command {
	var (
		inputPath  string
		outputPath string
		verbose    bool
		dryRun     bool
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Import a host directory tree into a storage document",
		Long: `Import an existing directory tree into a jsonfs storage document.

Regular files and directories are copied with their permission bits, owner
and modification time. Symbolic links and special files are skipped. The
document is written once, after the whole tree has been read.`,
		Run: func(cmd *cobra.Command, args []string) {
			runConvert(inputPath, outputPath, verbose, dryRun, force)
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Path to input directory (required)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path to output storage document (required)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without making changes")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing storage document")

	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")

	return cmd
}

type convertStats struct {
	Files   int
	Dirs    int
	Skipped int
	Bytes   uint64
}

func runConvert(inputPath, outputPath string, verbose, dryRun, force bool) {
	info, err := os.Stat(inputPath)
	if os.IsNotExist(err) {
		log.Fatalf("Input directory does not exist: %s", inputPath)
	}
	if err != nil {
		log.Fatalf("Failed to stat input directory: %v", err)
	}
	if !info.IsDir() {
		log.Fatalf("Input is not a directory: %s", inputPath)
	}
	if _, err := os.Stat(outputPath); err == nil && !force && !dryRun {
		log.Fatalf("Output %s already exists (use --force to replace it)", outputPath)
	}

	if verbose {
		fmt.Printf("Converting %s to jsonfs document %s\n", inputPath, outputPath)
		if dryRun {
			fmt.Println("DRY RUN - no changes will be made")
		}
	}

	tree, stats, err := importTree(inputPath)
	if err != nil {
		log.Fatalf("Failed to read input directory: %v", err)
	}

	if dryRun {
		fmt.Println("Entries that would be stored:")
		tree.Walk(func(p string, n util.Node) error {
			fmt.Printf("  %s\n", p)
			return nil
		})
		return
	}

	if err := util.SaveTree(outputPath, tree); err != nil {
		log.Fatalf("Failed to write storage document: %v", err)
	}

	if verbose {
		fmt.Printf("Conversion complete!\n")
		fmt.Printf("  Files: %d\n", stats.Files)
		fmt.Printf("  Directories: %d\n", stats.Dirs)
		fmt.Printf("  Skipped: %d\n", stats.Skipped)
		fmt.Printf("  Total size: %s\n", humanize.Bytes(stats.Bytes))
		fmt.Printf("  Storage document: %s\n", outputPath)
	}
}

// importTree reads the directory at root into a tree. root itself becomes
// the tree root.
func importTree(root string) (*util.Tree, convertStats, error) {
	var stats convertStats
	rootInfo, err := os.Stat(root)
	if err != nil {
		return nil, stats, err
	}
	tree := util.NewTree(hostAttrs(rootInfo, util.ModeDir, 2))
	stats.Dirs++

	err = filepath.WalkDir(root, func(hostPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, hostPath)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		p := "/" + filepath.ToSlash(rel)

		if !d.IsDir() && !d.Type().IsRegular() {
			logger.Warnw("skipping non-regular file", "path", hostPath, "type", d.Type().String())
			stats.Skipped++
			return nil
		}
		parent, err := tree.ResolveDir(path.Dir(p))
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		if d.IsDir() {
			if err := parent.Add(util.NewDir(d.Name(), hostAttrs(info, util.ModeDir, 2))); err != nil {
				return err
			}
			parent.Attr().Nlink++
			stats.Dirs++
			return nil
		}

		contents, err := os.ReadFile(hostPath)
		if err != nil {
			return err
		}
		if len(contents) > util.MaxFileSize {
			return fmt.Errorf("%s: %w: file is larger than %s", hostPath, util.ErrInvalidArgument, humanize.IBytes(util.MaxFileSize))
		}
		if err := parent.Add(util.NewFile(d.Name(), hostAttrs(info, util.ModeRegular, 1), contents)); err != nil {
			return err
		}
		stats.Files++
		stats.Bytes += uint64(len(contents))
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return tree, stats, nil
}

func hostAttrs(info fs.FileInfo, typeBits, nlink uint32) util.Attrs {
	mtime := info.ModTime().Unix()
	a := util.Attrs{
		Mode:  typeBits | uint32(info.Mode().Perm()),
		Nlink: nlink,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
		Atime: mtime,
		Ctime: mtime,
		Mtime: mtime,
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		a.Uid = st.Uid
		a.Gid = st.Gid
	}
	return a
}
