// Command barc is a thin reference entrypoint over the archive engine and
// storage dispatcher: enough to create and extract an archive from the
// command line for manual testing and as a usage example. It deliberately
// does not reimplement the real front-end CLI (job configuration parsing,
// server discovery, the indexing database, the scanner/selector that
// decides what to back up); those belong to the callers of this module.
// What's here is the minimal plumbing a library-shaped repo needs to be
// runnable at all: a cobra root command plus one subcommand per operation.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/blockvault/barc/internal/logging"
)

var (
	flagPassword   string
	flagUser       string
	flagCipher     string
	flagCompress   string
	flagPartSize   int64
	flagBandwidth  float64
	flagVerbose    bool
	flagSMBShare   string
	flagSMBDomain  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "barc",
		Short: "Chunked archive engine reference CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagVerbose {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	root.PersistentFlags().StringVar(&flagUser, "user", "", "username for network storage targets")
	root.PersistentFlags().StringVar(&flagPassword, "password", "", "password for storage auth and/or archive encryption (prompted if omitted and needed)")
	root.PersistentFlags().StringVar(&flagCipher, "cipher", "none", "archive cipher: none|aes128-cbc|aes256-cbc|chacha20")
	root.PersistentFlags().StringVar(&flagCompress, "compress", "none", "archive compressor: none|gzip|pgzip|zstd")
	root.PersistentFlags().Int64Var(&flagPartSize, "part-size", 0, "archive part size limit in bytes (0 = unlimited)")
	root.PersistentFlags().Float64Var(&flagBandwidth, "bwlimit", 0, "network transfer cap in bytes/second (0 = unlimited)")
	root.PersistentFlags().StringVar(&flagSMBShare, "smb-share", "", "SMB share name, for smb:// targets")
	root.PersistentFlags().StringVar(&flagSMBDomain, "smb-domain", "", "SMB/NTLM domain, for smb:// targets")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug-level logging")

	root.AddCommand(newCreateCmd(), newExtractCmd())
	return root
}
