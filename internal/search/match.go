package search

import "github.com/dustin/go-humanize"

// TerminatedText is the text of the sentinel appended when a search hits
// its match cap.
const TerminatedText = "...  Search Terminated  ..."

// Match is one matching line, or the terminated sentinel.
type Match struct {
	Line       string `json:"line"`
	LineNumber int64  `json:"lineNumber"`
	Terminated bool   `json:"terminated,omitempty"`
}

func terminated() Match { return Match{Line: TerminatedText, Terminated: true} }

// FormattedLineNumber renders the line number with thousands separators,
// or "N/A" for the sentinel.
func (m Match) FormattedLineNumber() string {
	if m.Terminated {
		return "N/A"
	}
	return humanize.Comma(m.LineNumber)
}
