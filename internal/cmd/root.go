package cmd

import (
	"github.com/dendrascience/jsonfs/version"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
)

var logger = logging.Logger("jsonfs/cmd")

// NewRootCmd creates and returns the root cobra command for the jsonfs CLI.
// It sets up all subcommands, command groups, and the shared log level flag.
func NewRootCmd() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "jsonfs",
		Short: "jsonfs - A FUSE filesystem stored in a single JSON document",
		Long: `jsonfs is a FUSE filesystem whose whole state lives in one JSON document.

Every directory and file, with its metadata and contents, is a node in the
document. Each filesystem call loads the document, applies the change and
saves it atomically before returning.

Use subcommands to perform different operations:
  - mount: Mount a storage document at a specified mountpoint
  - seed: Populate a storage document with generated test files
  - validate: Check a storage document for corruption and consistency
  - count: Count files, directories and bytes in a storage document
  - convert: Import a host directory tree into a storage document
  - export: Write a storage document out as a host directory tree`,
		Version: version.GetFullVersion(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.SetLogLevel("*", logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	groupUtilities := "utilities"
	groupFilesystem := "filesystem"

	rootCmd.AddGroup(&cobra.Group{
		ID:    groupFilesystem,
		Title: "Filesystem Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupUtilities,
		Title: "Utility Commands",
	})

	mountCmd := NewMountCmd()
	seedCmd := NewSeedCmd()
	validateCmd := NewValidateCmd()
	countCmd := NewCountCmd()
	convertCmd := NewConvertCmd()
	exportCmd := NewExportCmd()
	versionCmd := NewVersionCmd()

	mountCmd.GroupID = groupFilesystem
	seedCmd.GroupID = groupUtilities
	validateCmd.GroupID = groupUtilities
	countCmd.GroupID = groupUtilities
	convertCmd.GroupID = groupUtilities
	exportCmd.GroupID = groupUtilities
	versionCmd.GroupID = groupUtilities

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}
