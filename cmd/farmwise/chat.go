package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/response"
	"github.com/farmwise/farmwise/go/orchestrator/internal/router"
	"github.com/farmwise/farmwise/go/orchestrator/internal/server"
	"github.com/farmwise/farmwise/go/orchestrator/internal/streaming"
)

var (
	chatUser  string
	chatName  string
	chatAgent string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the agents from the terminal",
	Long: `chat runs conversation turns in-process against the configured Redis,
database and model provider, exactly as a WhatsApp message would. Type /quit
to leave; an empty line is ignored.

Example:
  farmwise chat --user 254700000001 --name Achieng
  farmwise chat --user 254700000001 --agent "Market Price Agent"`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "", "WhatsApp id (phone number) of the user to act as (required)")
	chatCmd.Flags().StringVar(&chatName, "name", "", "display name for a new contact")
	chatCmd.Flags().StringVar(&chatAgent, "agent", "", "force the first turn to this agent")
	_ = chatCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	conv, err := server.NewConversation(ctx, features, logger)
	if err != nil {
		return err
	}
	defer conv.Close()

	out := cmd.OutOrStdout()
	agent := chatAgent
	return chatLoop(ctx, conv.Router, cmd.InOrStdin(), out, func(input string) router.Request {
		req := router.Request{UserWaID: chatUser, UserName: chatName, Input: response.Input{Text: input}, Agent: agent}
		agent = ""
		return req
	})
}

type turnStreamer interface {
	Stream(ctx context.Context, req router.Request, emit func(streaming.ResponseEvent)) (*router.Result, error)
}

func chatLoop(ctx context.Context, turns turnStreamer, in io.Reader, out io.Writer, next func(string) router.Request) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "":
			fmt.Fprint(out, "> ")
			continue
		}

		res, err := turns.Stream(ctx, next(line), func(ev streaming.ResponseEvent) {
			printEvent(out, ev)
		})
		switch {
		case errors.Is(err, router.ErrEmptyInput):
		case err != nil:
			logger.Error("Turn failed", zap.Error(err))
			fmt.Fprintf(out, "error: %v\n", err)
		default:
			suffix := ""
			if res.Reset {
				suffix = ", session reset"
			}
			fmt.Fprintf(out, "  [%s%s]\n", res.Agent, suffix)
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func printEvent(out io.Writer, ev streaming.ResponseEvent) {
	if ev.Audio != nil {
		fmt.Fprintf(out, "  (voice note, %s, %d bytes)\n", ev.Audio.MimeType, len(ev.Audio.Data))
		return
	}
	if ev.Text == nil {
		return
	}
	fmt.Fprintln(out, ev.Text.Content)
	for _, b := range ev.Text.Buttons {
		fmt.Fprintf(out, "  [%s] -> %s\n", b.Title, b.CallbackData)
	}
	for _, a := range ev.Text.Actions {
		fmt.Fprintf(out, "  (action: %s)\n", a)
	}
}
