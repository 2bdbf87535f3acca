package cli

import (
	"fmt"
	"strings"

	"aec-rag-go/internal/query"

	"github.com/spf13/cobra"
)

var (
	queryCategory string
	queryStream   bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question against the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: withSession(func(cmd *cobra.Command, args []string, s *session) error {
		req := query.Request{Question: strings.Join(args, " "), Category: queryCategory}
		if !queryStream {
			answer, err := s.query.Ask(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, answer)
		}

		out := cmd.OutOrStdout()
		answer, err := s.query.AskStream(cmd.Context(), req, func(delta string) error {
			_, err := fmt.Fprint(out, delta)
			return err
		})
		if err != nil {
			return err
		}
		if !answer.Sufficient {
			fmt.Fprint(out, answer.Text)
		}
		fmt.Fprintln(out)
		for _, c := range answer.Citations {
			fmt.Fprintf(out, "[%d] %s (chunk %d, similarity %.3f)\n", c.Index, c.SourceURI, c.SequenceIndex, c.Similarity)
		}
		return nil
	}),
}

func init() {
	queryCmd.Flags().StringVar(&queryCategory, "category", "", "restrict retrieval to one category")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "print the answer as it is generated")
	rootCmd.AddCommand(queryCmd)
}
