package cmd

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path"
	"time"

	"github.com/dendrascience/jsonfs/jsonfs"
	"github.com/dendrascience/jsonfs/util"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/taigrr/colorhash"
)

// NewSeedCmd creates and returns the seed subcommand for the jsonfs CLI.
// It fills a storage document with generated test files.
func NewSeedCmd() *cobra.Command {
	var (
		outputPath string
		fileCount  int
		buckets    int
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate a storage document with generated test files",
		Long: `Populate a storage document with generated test files.

Creates files in a /YYYY/MM/BUCKET directory structure. The bucket is chosen
from a hash of the file's UUID, and each file contains that UUID as a single
line. Every file goes through the same create and write path as a mounted
filesystem, so the document is saved once per operation.`,
		Run: func(cmd *cobra.Command, args []string) {
			runSeed(outputPath, fileCount, buckets, verbose)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path to storage document (required)")
	cmd.Flags().IntVarP(&fileCount, "count", "c", 100, "Number of files to generate")
	cmd.Flags().IntVarP(&buckets, "buckets", "b", 16, "Number of bucket directories per month")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	cmd.MarkFlagRequired("output")

	return cmd
}

func runSeed(outputPath string, fileCount, buckets int, verbose bool) {
	if fileCount < 0 || buckets < 1 {
		log.Fatalf("Invalid count %d or bucket number %d", fileCount, buckets)
	}
	if verbose {
		fmt.Printf("Generating %d test files in %s\n", fileCount, outputPath)
	}

	engine, err := jsonfs.NewEngine(outputPath)
	if err != nil {
		log.Fatalf("Failed to open storage document: %v", err)
	}

	dirs, err := seedFiles(engine, fileCount, buckets, func(created int) {
		if verbose && created%100 == 0 {
			fmt.Printf("Created %d/%d files...\n", created, fileCount)
		}
	})
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	if verbose {
		fmt.Printf("Successfully created %d files\n", fileCount)
		fmt.Printf("Files distributed across %d directories\n", len(dirs))

		maxFiles := 0
		minFiles := fileCount
		for _, count := range dirs {
			maxFiles = max(maxFiles, count)
			minFiles = min(minFiles, count)
		}
		fmt.Printf("Directory file counts: min=%d, max=%d\n", minFiles, maxFiles)
	}
}

// seedFiles creates fileCount files through engine and returns the number of
// files placed in each leaf directory.
func seedFiles(engine *jsonfs.Engine, fileCount, buckets int, progress func(created int)) (map[string]int, error) {
	caller := jsonfs.Caller{Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())}
	baseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dirs := make(map[string]int)
	made := make(map[string]bool)

	for created := 0; created < fileCount; {
		id := uuid.New().String()
		fileTime := baseTime.Add(time.Duration(rand.Int64N(int64(365 * 24 * time.Hour))))

		bucket := colorhash.HashString(id) % buckets
		if bucket < 0 {
			bucket += buckets
		}
		dirPath := fmt.Sprintf("/%04d/%02d/%03d", fileTime.Year(), fileTime.Month(), bucket)
		if err := mkdirAll(engine, dirPath, caller, made); err != nil {
			return nil, err
		}

		ext := ".json"
		if rand.IntN(2) == 1 {
			ext = ".txt"
		}
		filePath := path.Join(dirPath, id[:8]+ext)

		if _, err := engine.Create(filePath, 0o644, caller); err != nil {
			if errors.Is(err, util.ErrAlreadyExists) {
				continue
			}
			return nil, err
		}
		if _, err := engine.Write(filePath, []byte(id+"\n"), 0); err != nil {
			return nil, err
		}
		if err := engine.Utimens(filePath, fileTime, fileTime); err != nil {
			return nil, err
		}

		dirs[dirPath]++
		created++
		if progress != nil {
			progress(created)
		}
	}
	return dirs, nil
}

// mkdirAll creates every missing directory on the way to p. made caches the
// directories known to exist.
func mkdirAll(engine *jsonfs.Engine, p string, caller jsonfs.Caller, made map[string]bool) error {
	cur := "/"
	for _, name := range util.SplitPath(p) {
		cur = path.Join(cur, name)
		if made[cur] {
			continue
		}
		err := engine.Mkdir(cur, 0o755, caller)
		if err != nil && !errors.Is(err, util.ErrAlreadyExists) {
			return err
		}
		made[cur] = true
	}
	return nil
}
