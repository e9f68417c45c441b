package cmd

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path"

	"github.com/dendrascience/jsonfs/util"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/multierr"
)

// NewValidateCmd creates and returns the validate subcommand for the jsonfs CLI.
// It checks a storage document for corruption and consistency.
func NewValidateCmd() *cobra.Command {
	var (
		storagePath string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a storage document for corruption and consistency",
		Long: `Validate a storage document for corruption and consistency issues.

This command checks that the document parses, that every entry is named
and unique among its siblings, that each st_mode carries the right file type
bits and that each file's st_size matches its contents. Every problem found
is reported, and the command exits with status 1 if there are any.`,
		Run: func(cmd *cobra.Command, args []string) {
			runValidate(storagePath, verbose)
		},
	}

	cmd.Flags().StringVarP(&storagePath, "path", "p", "", "Path to storage document to validate (required)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	cmd.MarkFlagRequired("path")

	return cmd
}

func runValidate(storagePath string, verbose bool) {
	data, err := os.ReadFile(storagePath)
	if err != nil {
		log.Fatalf("Failed to read storage document: %v", err)
	}

	if verbose {
		fmt.Printf("Validating jsonfs storage document %s\n", storagePath)
	}

	metadata, err := validateDocument(data)
	problems := multierr.Errors(err)
	if len(problems) > 0 {
		red := color.New(color.FgRed)
		red.Printf("Document %s has %d problems:\n", storagePath, len(problems))
		for _, problem := range problems {
			fmt.Printf("  - %s\n", problem)
		}
	} else if verbose {
		color.New(color.FgGreen).Printf("Document %s is valid\n", storagePath)
	}

	fmt.Printf("\nValidation complete:\n")
	fmt.Printf("  Directories: %d\n", metadata.DirCount)
	fmt.Printf("  Files: %d\n", metadata.FileCount)
	fmt.Printf("  Total size: %s\n", humanize.Bytes(metadata.TotalBytes))
	fmt.Printf("  Max depth: %d\n", metadata.MaxDepth)
	if metadata.FileCount > 0 {
		fmt.Printf("  Oldest file: %s\n", metadata.OldestFileTS.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Newest file: %s\n", metadata.NewestFileTS.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("  Total problems: %d\n", len(problems))

	if len(problems) > 0 {
		os.Exit(1)
	}
}

// validateDocument returns the statistics of the document together with
// every problem found, combined with multierr. The statistics are zero when
// the document cannot be loaded.
func validateDocument(data []byte) (util.Metadata, error) {
	if !gjson.ValidBytes(data) {
		_, err := util.DecodeTree(bytes.NewReader(data))
		return util.Metadata{}, err
	}

	var problems error
	root := gjson.ParseBytes(data)
	if root.IsObject() {
		checkNode(root, "/", &problems)
	}

	tree, err := util.DecodeTree(bytes.NewReader(data))
	if err != nil {
		return util.Metadata{}, multierr.Append(problems, err)
	}
	return tree.GenerateMetadata(), problems
}

// checkNode reports the attribute problems that loading would silently
// repair: type bits that disagree with the entry kind and sizes that
// disagree with the contents.
func checkNode(n gjson.Result, p string, problems *error) {
	isFile := n.Get("type").String() == "f"

	mode := n.Get("attrs.st_mode")
	if !mode.Exists() {
		*problems = multierr.Append(*problems, fmt.Errorf("%s: missing st_mode", p))
	} else {
		want, kind := util.ModeDir, "directory"
		if isFile {
			want, kind = util.ModeRegular, "file"
		}
		if uint32(mode.Uint())&util.ModeTypeMask != want {
			*problems = multierr.Append(*problems, fmt.Errorf("%s: st_mode %o is not a %s mode", p, mode.Uint(), kind))
		}
	}

	if isFile {
		size := n.Get("attrs.st_size").Uint()
		length := uint64(len(n.Get("contents").String()))
		if n.Get("encoding").String() == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(n.Get("contents").String())
			if err != nil {
				return
			}
			length = uint64(len(decoded))
		}
		if size != length {
			*problems = multierr.Append(*problems, fmt.Errorf("%s: st_size %d does not match %d bytes of contents", p, size, length))
		}
		return
	}

	n.Get("children").ForEach(func(_, child gjson.Result) bool {
		checkNode(child, path.Join(p, child.Get("name").String()), problems)
		return true
	})
}
