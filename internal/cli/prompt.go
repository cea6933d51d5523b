package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/betterme-app/betterme/internal/domain"
)

// Prompter collects answers line by line from a terminal.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer

	partial domain.Answers
}

var _ domain.AnswerSource = (*Prompter)(nil)

// NewPrompter reads answers from in and writes prompts to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Answers asks for every category in order, re-asking on blank input.
// Categories already answered since the last Clear are not asked again.
// It returns false when input ends before every category is answered.
func (p *Prompter) Answers(cats domain.CategorySet) (domain.Answers, bool) {
	if p.partial == nil {
		p.partial = make(domain.Answers, len(cats))
	}
	label := color.New(color.FgCyan)
	for _, c := range cats {
		for strings.TrimSpace(p.partial[c]) == "" {
			label.Fprintf(p.out, "%s: ", c)
			line, err := p.in.ReadString('\n')
			p.partial[c] = strings.TrimSpace(line)
			if err != nil && p.partial[c] == "" {
				fmt.Fprintln(p.out)
				return nil, false
			}
		}
	}
	return p.partial.Clone(), true
}

// Clear forgets partial input so the next call starts fresh.
func (p *Prompter) Clear() { p.partial = nil }

// confirm asks a yes/no question; anything but y/yes is no.
func confirm(in *bufio.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, _ := in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
