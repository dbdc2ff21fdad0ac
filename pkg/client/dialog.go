package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/codeready-toolchain/taskstream/pkg/protocol"
)

// DialogHandler produces the user's answer to a dialog request. The runner
// fills in the dialog id.
type DialogHandler interface {
	HandleDialog(ctx context.Context, req protocol.DialogRequest) (protocol.DialogResponse, error)
}

// DialogHandlerFunc adapts a function to DialogHandler.
type DialogHandlerFunc func(ctx context.Context, req protocol.DialogRequest) (protocol.DialogResponse, error)

// HandleDialog calls f.
func (f DialogHandlerFunc) HandleDialog(ctx context.Context, req protocol.DialogRequest) (protocol.DialogResponse, error) {
	return f(ctx, req)
}

// AutoAnswer answers every dialog with result.
func AutoAnswer(result protocol.DialogResult) DialogHandler {
	return DialogHandlerFunc(func(context.Context, protocol.DialogRequest) (protocol.DialogResponse, error) {
		return protocol.DialogResponse{Result: result}, nil
	})
}

// Prompt asks the user on a terminal. Confirm dialogs take y/n, custom
// dialogs take one line that is sent as the JSON string payload, and info
// dialogs only need Enter.
type Prompt struct {
	out io.Writer

	lines chan string
	once  sync.Once
	in    io.Reader
}

// NewPrompt creates a prompt reading answers from in and writing questions
// to out.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: in, out: out, lines: make(chan string)}
}

// HandleDialog implements DialogHandler. A closed input answers cancel.
func (p *Prompt) HandleDialog(ctx context.Context, req protocol.DialogRequest) (protocol.DialogResponse, error) {
	p.once.Do(func() { go p.scan() })

	switch req.Kind {
	case protocol.DialogKindConfirm:
		fmt.Fprintf(p.out, "\n%s\n%s [y/N]: ", req.Title, req.Message)
	case protocol.DialogKindCustom:
		fmt.Fprintf(p.out, "\n%s\n%s\n> ", req.Title, req.Message)
	default:
		fmt.Fprintf(p.out, "\n%s\n%s [Enter]: ", req.Title, req.Message)
	}

	var line string
	select {
	case <-ctx.Done():
		return protocol.DialogResponse{}, ctx.Err()
	case l, ok := <-p.lines:
		if !ok {
			return protocol.DialogResponse{Result: protocol.DialogResultCancel}, nil
		}
		line = strings.TrimSpace(l)
	}

	switch req.Kind {
	case protocol.DialogKindConfirm:
		switch strings.ToLower(line) {
		case "y", "yes":
			return protocol.DialogResponse{Result: protocol.DialogResultOK}, nil
		}
		return protocol.DialogResponse{Result: protocol.DialogResultCancel}, nil
	case protocol.DialogKindCustom:
		payload, err := protocol.JSON.Marshal(line)
		if err != nil {
			return protocol.DialogResponse{}, err
		}
		return protocol.DialogResponse{Result: protocol.DialogResultCustom, PayloadJSON: string(payload)}, nil
	}
	return protocol.DialogResponse{Result: protocol.DialogResultOK}, nil
}

// scan feeds input lines to HandleDialog. It runs for the life of the
// process since a terminal read cannot be interrupted.
func (p *Prompt) scan() {
	defer close(p.lines)
	sc := bufio.NewScanner(p.in)
	for sc.Scan() {
		p.lines <- sc.Text()
	}
}
