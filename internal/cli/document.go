package cli

import (
	"github.com/spf13/cobra"
)

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Run a full scan of the document source",
	Long: `Lists every object in the document source, enqueues new and changed
documents, and tombstones documents whose source object disappeared.
The command returns after the enqueued documents have been processed
when no Kafka brokers are configured.`,
	Args: cobra.NoArgs,
	RunE: withSession(func(cmd *cobra.Command, _ []string, s *session) error {
		report, err := s.docs.Rescan(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show the processing state of a document",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
		st, err := s.docs.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, st)
	}),
}

var resubmitCmd = &cobra.Command{
	Use:   "resubmit <document-id>",
	Short: "Force a document through the pipeline again",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
		rec, err := s.docs.Resubmit(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, rec)
	}),
}

var tombstoneCmd = &cobra.Command{
	Use:   "tombstone <document-id>",
	Short: "Remove a document from retrieval",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
		rec, err := s.docs.Tombstone(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, rec)
	}),
}

func init() {
	rootCmd.AddCommand(rescanCmd, statusCmd, resubmitCmd, tombstoneCmd)
}
