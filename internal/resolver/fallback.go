package resolver

import (
	"bufio"
	"io"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultReply answers any prompt the fallback table does not know.
const DefaultReply = "I'm here to help! What else would you like to know?"

// defaultPhrases is the built-in table of canned replies.
var defaultPhrases = map[string]string{
	"hello":             "Hi there! How can I help you today?",
	"how are you":       "I'm doing well, thank you for asking! How about you?",
	"what is your name": "I'm ChatBot, your friendly AI assistant!",
	"bye":               "Goodbye! Have a great day!",
	"thank you":         "You're welcome! Is there anything else I can help with?",
}

// FallbackTable maps normalized phrases to canned replies. It is read-only
// after construction and safe for concurrent use.
type FallbackTable struct {
	replies      map[string]string
	defaultReply string
}

// NewFallbackTable returns the built-in table extended (and overridden) by extra.
// Keys of extra are normalized.
func NewFallbackTable(extra map[string]string) *FallbackTable {
	t := &FallbackTable{
		replies:      make(map[string]string, len(defaultPhrases)+len(extra)),
		defaultReply: DefaultReply,
	}
	for k, v := range defaultPhrases {
		t.replies[k] = v
	}
	for k, v := range extra {
		if nk := Normalize(k); nk != "" && strings.TrimSpace(v) != "" {
			t.replies[nk] = strings.TrimSpace(v)
		}
	}
	return t
}

// Lookup returns the canned reply for text and whether the table knew it.
// A miss returns the default reply.
func (t *FallbackTable) Lookup(text string) (string, bool) {
	if r, ok := t.replies[Normalize(text)]; ok {
		return r, true
	}
	return t.defaultReply, false
}

// Len reports how many phrases the table holds.
func (t *FallbackTable) Len() int { return len(t.replies) }

var lower = cases.Lower(language.Und)

// Normalize lowercases text (Unicode-aware), trims it, and collapses runs of
// inner whitespace to a single space.
func Normalize(text string) string {
	return strings.Join(strings.Fields(lower.String(text)), " ")
}

// LoadFallbackFile reads a Markdown file holding a two-column table
// (| phrase | reply |) and returns the table built from it.
func LoadFallbackFile(path string) (*FallbackTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := ParseFallbackMarkdown(f)
	if err != nil {
		return nil, err
	}
	return NewFallbackTable(rows), nil
}

// ParseFallbackMarkdown extracts phrase/reply pairs from Markdown table rows.
//
// Separator rows (| --- | :---: |) are skipped, as is the header row that
// precedes one. Rows with fewer than two non-empty cells and non-table lines
// are ignored. Cells beyond the second are joined into the reply.
func ParseFallbackMarkdown(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var pending []string // last row seen, held until we know it is not a header
	flush := func() {
		if len(pending) >= 2 {
			out[Normalize(pending[0])] = strings.Join(pending[1:], " ")
		}
		pending = nil
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !(strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") && len(line) > 1) {
			flush()
			continue
		}

		cols := strings.Split(strings.Trim(line, "|"), "|")
		allSep := true
		cells := make([]string, 0, len(cols))
		for _, c := range cols {
			cell := strings.TrimSpace(c)
			if cell != "" {
				cells = append(cells, cell)
			}
			tmp := strings.ReplaceAll(cell, ":", "")
			tmp = strings.ReplaceAll(tmp, "-", "")
			if strings.TrimSpace(tmp) != "" {
				allSep = false
			}
		}
		if allSep {
			// the pending row was a header
			pending = nil
			continue
		}
		flush()
		pending = cells
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
