package inspect

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rzbill/loglens/internal/search"
)

// NewStatCommand prints line and span counts for each loaded file and the
// store totals.
func NewStatCommand(st *Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>...",
		Short: "Load files and print their line and span counts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd.Context(), st, args, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()
			out := cmd.OutOrStdout()
			for _, f := range s.files {
				fmt.Fprintf(out, "%s: %s, %d spans, %s compressed, %s raw\n",
					f.Title, f.Status, f.Spans,
					humanize.IBytes(uint64(f.CompressedBytes)), humanize.IBytes(uint64(f.RawBytes)))
			}
			fmt.Fprintf(out, "total: %s\n", s.rt.Store().Totals())
			return nil
		},
	}
}

// searchPoll is the pause between result polls in grep.
var searchPoll = 10 * time.Millisecond

// NewGrepCommand searches every loaded file and prints "title:line: text"
// for each match, in line order.
func NewGrepCommand(st *Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grep <term> <path>...",
		Short: "Case-insensitive search across files",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxMatches, _ := cmd.Flags().GetInt("max")
			filter, _ := cmd.Flags().GetString("filter")
			ctx := cmd.Context()

			s, err := load(ctx, st, args[1:], cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()
			out := cmd.OutOrStdout()
			for _, f := range s.files {
				sr, err := s.rt.NewSearcher(f.ID)
				if err != nil {
					return err
				}
				if err := sr.StartFind(ctx, args[0], search.FindOptions{MaxMatches: maxMatches, Filter: filter}); err != nil {
					return err
				}
				var buf []search.Match
				for {
					var poll search.Poll
					buf, poll, err = sr.GetNewResults(buf[:0])
					for _, m := range buf {
						if m.Terminated {
							fmt.Fprintf(out, "%s: %s\n", f.Title, m.Line)
							continue
						}
						fmt.Fprintf(out, "%s:%d: %s\n", f.Title, m.LineNumber, m.Line)
					}
					if err != nil {
						return err
					}
					if poll.Done {
						break
					}
					time.Sleep(searchPoll)
				}
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("max", 0, "Stop each file's search after this many matches (0 = unlimited)")
	cmd.Flags().String("filter", "", "CEL expression over line, line_number, file and json")
	return cmd
}

// NewCatCommand prints a range of lines from the files in path.
func NewCatCommand(st *Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print lines of a file through the compressed store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetInt64("from")
			count, _ := cmd.Flags().GetInt64("count")
			if from < 1 {
				return fmt.Errorf("--from must be at least 1")
			}
			s, err := load(cmd.Context(), st, args, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()
			out := cmd.OutOrStdout()
			for _, f := range s.files {
				last := f.Lines
				if count > 0 && from+count-1 < last {
					last = from + count - 1
				}
				for n := from; n <= last; n++ {
					line, err := s.rt.GetLine(f.ID, n)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64("from", 1, "First line to print (1-based)")
	cmd.Flags().Int64("count", 0, "Number of lines to print (0 = to the end)")
	return cmd
}
