package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ZanzyTHEbar/fincopilot/fincopilot/harness"
	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
)

// turnStreamer is the part of the orchestrator the REPL drives.
type turnStreamer interface {
	StreamTurn(ctx context.Context, req harness.TurnRequest) <-chan harness.Event
}

// runChat reads messages from in until EOF or "exit", streaming replies to out.
// Confirmation requests are answered on the next line; "y" resubmits the actions as approved.
func runChat(ctx context.Context, s turnStreamer, userID string, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "fincopilot (type 'exit' to quit)")
	scanner := bufio.NewScanner(in)
	var history []ports.PromptMessage

	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		req := harness.TurnRequest{UserID: userID, Message: input, History: history}
		res := streamOnce(ctx, s, req, out)

		if res != nil && res.Confirmation != nil {
			fmt.Fprintf(out, "%s [y/N] ", res.Confirmation.Message)
			if !scanner.Scan() {
				return scanner.Err()
			}
			if answer := strings.ToLower(strings.TrimSpace(scanner.Text())); answer != "y" && answer != "yes" {
				fmt.Fprintln(out, "Cancelled.")
				history = append(history,
					ports.PromptMessage{Role: ports.RoleUser, Content: input},
					ports.PromptMessage{Role: ports.RoleAssistant, Content: "The user declined the proposed action."})
				continue
			}
			req.Approved = res.Confirmation.Actions
			res = streamOnce(ctx, s, req, out)
		}

		if res != nil {
			history = append(history,
				ports.PromptMessage{Role: ports.RoleUser, Content: input},
				ports.PromptMessage{Role: ports.RoleAssistant, Content: res.Reply})
		}
	}
}

// streamOnce prints one turn's events and returns its terminal result.
func streamOnce(ctx context.Context, s turnStreamer, req harness.TurnRequest, out io.Writer) *harness.TurnResult {
	var (
		result  *harness.TurnResult
		printed bool
	)
	for ev := range s.StreamTurn(ctx, req) {
		switch ev.Type {
		case harness.EventTools:
			fmt.Fprintf(out, "[tools: %s]\n", strings.Join(ev.Tools, ", "))
		case harness.EventChunk:
			fmt.Fprint(out, ev.Text)
			printed = true
		case harness.EventDone, harness.EventError:
			result = ev.Result
			switch {
			case printed:
			case result == nil:
				fmt.Fprint(out, ev.Text)
			case result.Confirmation == nil:
				fmt.Fprint(out, result.Reply)
			}
			fmt.Fprintln(out)
		}
	}
	return result
}
