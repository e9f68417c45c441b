package cmd

import (
	"fmt"
	"os"

	"github.com/dendrascience/jsonfs/util"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

// NewCountCmd creates and returns the count subcommand for the jsonfs CLI.
// It provides quick statistics about a storage document.
func NewCountCmd() *cobra.Command {
	var storagePath string

	cmd := &cobra.Command{
		Use:   "count [FILE]",
		Short: "Count files, directories and bytes in a storage document",
		Long: `Count the files, directories and stored bytes in a storage document.

The document is scanned in place without building the tree or decoding file
contents, so this works on documents too damaged to load. Byte totals are
taken from the recorded st_size of each file.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) > 0 {
				storagePath = args[0]
			}
			runCount(storagePath)
		},
	}

	cmd.Flags().StringVarP(&storagePath, "path", "p", "jsonfs.json", "Path to storage document")

	return cmd
}

type countResult struct {
	Files int
	Dirs  int
	Bytes uint64
}

func runCount(storagePath string) {
	data, err := os.ReadFile(storagePath)
	if err != nil {
		fmt.Printf("Error reading storage document: %v\n", err)
		return
	}

	res, err := countDocument(data)
	if err != nil {
		fmt.Printf("Error counting files: %v\n", err)
		return
	}

	fmt.Printf("Total files: %d\n", res.Files)
	fmt.Printf("Total directories: %d\n", res.Dirs)
	fmt.Printf("Total size: %s\n", humanize.Bytes(res.Bytes))
}

// countDocument walks the raw document. The root counts as a directory.
func countDocument(data []byte) (countResult, error) {
	if !gjson.ValidBytes(data) {
		return countResult{}, fmt.Errorf("%w: not valid JSON", util.ErrStorageCorrupt)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return countResult{}, fmt.Errorf("%w: root is not an object", util.ErrStorageCorrupt)
	}

	var res countResult
	countNode(root, &res)
	return res, nil
}

func countNode(n gjson.Result, res *countResult) {
	if n.Get("type").String() == "f" {
		res.Files++
		res.Bytes += n.Get("attrs.st_size").Uint()
		return
	}
	res.Dirs++
	n.Get("children").ForEach(func(_, child gjson.Result) bool {
		countNode(child, res)
		return true
	})
}
