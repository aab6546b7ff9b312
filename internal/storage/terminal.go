package storage

import (
	"fmt"
	"io"
)

// Terminal is for echoing committed quotes on terminal.
type Terminal struct {
	out io.Writer
}

var terminal Terminal

// TerminalTimestamp is used as a format to display only the time.
const TerminalTimestamp = "15:04:05.999"

// InitTerminal initializes terminal display.
// Output writer is always os.Stdout except in case of testing where file will be set as output terminal.
func InitTerminal(out io.Writer) *Terminal {
	if terminal.out == nil {
		terminal = Terminal{
			out: out,
		}
	}
	return &terminal
}

// CommitQuotes batch outputs committed quote data to terminal.
func (t *Terminal) CommitQuotes(data []Quote) {
	for _, quote := range data {
		fmt.Fprintf(t.out, "%-10s%-15s%-15s%20f%20s\n\n", "Quote", quote.Asset, quote.Source, quote.Price, quote.Timestamp.Local().Format(TerminalTimestamp))
	}
}
