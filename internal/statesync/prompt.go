package statesync

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Prompter asks the operator to confirm or choose. Implementations return
// ctx.Err() when ctx is cancelled while waiting.
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
	Choose(ctx context.Context, question string, options []string) (int, error)
}

// LinePrompter reads answers line by line.
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewLinePrompter creates a prompter reading from in and writing to out.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

// Confirm asks a yes/no question. Anything but yes is no.
func (p *LinePrompter) Confirm(ctx context.Context, question string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	answer, err := p.readLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes", "s", "si", "sí":
		return true, nil
	default:
		return false, nil
	}
}

// Choose lists options and returns the zero-based index picked. Invalid
// answers are asked again.
func (p *LinePrompter) Choose(ctx context.Context, question string, options []string) (int, error) {
	for {
		fmt.Fprintln(p.out, question)
		for i, opt := range options {
			fmt.Fprintf(p.out, "  %d) %s\n", i+1, opt)
		}
		fmt.Fprintf(p.out, "Select an option (1-%d): ", len(options))

		answer, err := p.readLine(ctx)
		if err != nil {
			return -1, err
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		fmt.Fprintf(p.out, "Invalid option %q\n", answer)
	}
}

func (p *LinePrompter) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- result{strings.TrimSpace(line), err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}
