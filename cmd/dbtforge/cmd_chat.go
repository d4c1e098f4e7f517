package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"dbtforge/cmd/dbtforge/ui"
	"dbtforge/internal/chat"
	"dbtforge/internal/workbench"
)

// chatCmd asks questions about, or edits, the session's DBT rules
var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Ask about or refine the DBT rules",
	Long: `Sends one message, or starts a prompt loop when no message is given.
Messages that mention rules or DBT are treated as edit requests; the
model's update is merged into the current rules and the change log is shown.

Example:
  dbtforge chat --session <id> "add an accepted_values test on orders.status"`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	wb, err := openWorkbench(ctx)
	if err != nil {
		return err
	}
	defer printSessionHint(wb)

	if len(args) > 0 {
		return chatOnce(ctx, wb, strings.Join(args, " "), cmd.OutOrStdout())
	}
	return chatLoop(ctx, wb, cmd.InOrStdin(), cmd.OutOrStdout())
}

func chatLoop(ctx context.Context, wb *workbench.Workbench, in io.Reader, out io.Writer) error {
	st := ui.ForTerminal(plain)
	fmt.Fprintln(out, st.Muted.Render("Type a message, or /rules, /quit."))
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/rules":
			fmt.Fprintln(out, ui.RenderRules(st, wb.Rules().Value()))
			continue
		}
		if err := chatOnce(ctx, wb, line, out); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintln(out, st.Error.Render(workbench.StatusMessage(err)))
		}
	}
}

func chatOnce(ctx context.Context, wb *workbench.Workbench, message string, out io.Writer) error {
	var reply chat.Reply
	err := ui.RunProgress(ctx, "Thinking", plain, func(ctx context.Context, update func(string)) error {
		ctx, cancel := requestContext(ctx)
		defer cancel()
		var err error
		reply, err = wb.Chat(ctx, message, func(s string) { update(ui.Tail(s, 60)) })
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderReply(ui.ForTerminal(plain), reply))
	return nil
}

func renderReply(st ui.Styles, reply chat.Reply) string {
	if !reply.Updated {
		return ui.Markdown(reply.Message, 100, plain)
	}
	var b strings.Builder
	if reply.Prose != "" {
		b.WriteString(ui.Markdown(reply.Prose, 100, plain))
		b.WriteString("\n\n")
	}
	b.WriteString(ui.RenderChangeLog(st, reply.Log, reply.LastTable))
	return b.String()
}
