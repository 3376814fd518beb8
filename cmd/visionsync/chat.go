// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jllopis/visionsync/pkg/runtime"
)

// timeoutMessage is sent on the user's behalf when a timed prompt expires.
const timeoutMessage = "The user did not answer in time. Continue with the task on your own judgement."

type chatOptions struct {
	timeout   time.Duration
	contextID string
}

type chatStyles struct {
	prompt lipgloss.Style
	agent  lipgloss.Style
	err    lipgloss.Style
	note   lipgloss.Style
}

func defaultChatStyles() chatStyles {
	return chatStyles{
		prompt: lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#6C3483")).
			Padding(0, 1),
		agent: lipgloss.NewStyle().Foreground(lipgloss.Color("#1D8348")),
		err:   lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		note:  lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245")),
	}
}

func newChatCmd(o *rootOptions) *cobra.Command {
	co := chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an agent in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if co.timeout < 0 {
				return NewInvalidArgumentError("--timeout", "must not be negative")
			}
			s, err := o.load()
			if err != nil {
				return err
			}
			rt, err := newRuntime(s, logger(s))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := rt.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = rt.Stop(context.Background()) }()

			return newChatLoop(rt, co, readLines(os.Stdin), cmd.OutOrStdout()).run(ctx)
		},
	}
	cmd.Flags().DurationVar(&co.timeout, "timeout", 0, "answer on the user's behalf after this long without input (0 waits forever)")
	cmd.Flags().StringVar(&co.contextID, "context", "", "resume the session with this context id")
	return cmd
}

type chatLoop struct {
	rt        *runtime.LocalRuntime
	lines     <-chan string
	out       io.Writer
	timeout   time.Duration
	contextID string
	styles    chatStyles
}

func newChatLoop(rt *runtime.LocalRuntime, co chatOptions, lines <-chan string, out io.Writer) *chatLoop {
	return &chatLoop{
		rt:        rt,
		lines:     lines,
		out:       out,
		timeout:   co.timeout,
		contextID: co.contextID,
		styles:    defaultChatStyles(),
	}
}

// readLines feeds r line by line until EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

// run reads messages until the user types "e", input ends or ctx is done.
func (c *chatLoop) run(ctx context.Context) error {
	for {
		fmt.Fprintln(c.out, c.styles.prompt.Render(c.promptText()))
		input, ok := c.read(ctx)
		if !ok {
			return nil
		}
		input = strings.TrimSpace(input)
		if strings.EqualFold(input, "e") {
			return nil
		}
		if input == "" {
			continue
		}

		reply, err := c.rt.Send(ctx, c.contextID, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(c.out, c.styles.err.Render("Error: "+err.Error()))
			continue
		}
		c.contextID = reply.ContextID
		fmt.Fprintln(c.out, c.styles.agent.Render(fmt.Sprint(reply.Result)))
	}
}

func (c *chatLoop) promptText() string {
	if c.timeout > 0 {
		return fmt.Sprintf("User message (%s timeout, 'w' to wait, 'e' to leave):", c.timeout)
	}
	return "User message ('e' to leave):"
}

// read returns the next line. With a timeout, an expired prompt yields
// timeoutMessage and "w" waits for one more line without a deadline.
func (c *chatLoop) read(ctx context.Context) (string, bool) {
	if c.timeout <= 0 {
		return c.next(ctx)
	}
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-c.lines:
		if ok && strings.EqualFold(strings.TrimSpace(line), "w") {
			return c.next(ctx)
		}
		return line, ok
	case <-timer.C:
		fmt.Fprintln(c.out, c.styles.note.Render(timeoutMessage))
		return timeoutMessage, true
	}
}

func (c *chatLoop) next(ctx context.Context) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-c.lines:
		return line, ok
	}
}
