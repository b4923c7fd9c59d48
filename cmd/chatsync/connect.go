package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/yigit/coursechat/internal/app/chatsync"
	"github.com/yigit/coursechat/internal/app/clients/chatapi"
	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/config"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
	"github.com/yigit/coursechat/internal/pkg/auth"
	"github.com/yigit/coursechat/internal/pkg/helpers"
	"github.com/yigit/coursechat/internal/pkg/logger"
)

type connectFlags struct {
	token    string
	sendMode string
}

func newConnectCmd(configPath *string) *cobra.Command {
	var flags connectFlags

	cmd := &cobra.Command{
		Use:   "connect CHANNEL_ID",
		Short: "Join a channel, print its timeline and send lines read from stdin",
		Long: "Join a channel, print its timeline and send lines read from stdin.\n\n" +
			"Commands: /switch CHANNEL_ID, /history PAGE, /quit",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if flags.token != "" {
				cfg.Client.Token = flags.token
			}
			if flags.sendMode != "" {
				cfg.Client.SendMode = flags.sendMode
			}

			logger.Configure(logger.Config{
				Level:  logger.ParseLevel(cfg.Logging.Level),
				Pretty: strings.ToLower(cfg.Logging.Format) == "text",
				Output: os.Stderr,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, cfg, args[0], cmd.InOrStdin(), cmd.OutOrStdout(), logger.Component("chatsync"))
		},
	}

	cmd.Flags().StringVarP(&flags.token, "token", "t", "", "bearer token (overrides client.token)")
	cmd.Flags().StringVar(&flags.sendMode, "send-mode", "", "ws or rest (overrides client.send_mode)")
	return cmd
}

func runConnect(ctx context.Context, cfg *config.Config, channelID string, in io.Reader, out io.Writer, lgr zerolog.Logger) error {
	if cfg.Client.Token == "" {
		return fmt.Errorf("a token is required; pass --token or set CHAT_TOKEN")
	}
	claims, err := auth.ParseUnverified(cfg.Client.Token)
	if err != nil {
		return fmt.Errorf("unreadable token: %w", err)
	}

	timeout := helpers.ParseDuration(cfg.Client.Timeout, 10*time.Second)
	opts := chatsync.FromConfig(cfg, func(token string) chatsync.API {
		return chatapi.NewClient(cfg.Client.ServerURL, token, timeout, chatapi.WithLogger(lgr))
	})
	facade := chatsync.New(opts, lgr)

	printer := newTimelinePrinter(out)
	gaveUp := make(chan error, 1)

	events := facade.Events()
	events.OnTimelineChanged(func() { printer.print(facade.Timeline()) })
	events.OnConnect(func() { fmt.Fprintf(out, "* connected to %s as %s\n", facade.Channel(), claims.Sender().ID) })
	events.OnReconnecting(func(attempt int, delay time.Duration) {
		fmt.Fprintf(out, "* connection lost, retry %d in %s\n", attempt, delay)
	})
	events.OnReconnected(func() { fmt.Fprintln(out, "* reconnected") })
	events.OnError(func(err error) {
		fmt.Fprintf(out, "* error: %v\n", err)
		if apperrors.IsGiveUp(err) {
			select {
			case gaveUp <- err:
			default:
			}
		}
	})

	creds := chatsync.Credentials{Token: cfg.Client.Token, Sender: claims.Sender()}
	if err := facade.ConnectToChannel(ctx, channelID, creds); err != nil {
		return err
	}
	defer func() {
		_ = facade.Disconnect(context.Background())
		facade.Wait()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-gaveUp:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, facade, printer, strings.TrimSpace(line), out); quit {
				return nil
			}
		}
	}
}

// handleLine runs one input line and reports whether the user asked to quit
func handleLine(ctx context.Context, facade *chatsync.Facade, printer *timelinePrinter, line string, out io.Writer) bool {
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case strings.HasPrefix(line, "/switch "):
		channelID := strings.TrimSpace(strings.TrimPrefix(line, "/switch "))
		printer.reset()
		if err := facade.SwitchChannel(ctx, channelID); err != nil {
			fmt.Fprintf(out, "* switch failed: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "* switched to %s\n", channelID)
	case strings.HasPrefix(line, "/history "):
		page, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/history ")))
		if err != nil || page < 1 {
			fmt.Fprintln(out, "* usage: /history PAGE")
			return false
		}
		hp, err := facade.LoadHistory(ctx, page)
		if err != nil {
			fmt.Fprintf(out, "* history failed: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "* page %d of %d\n", hp.PageNumber, hp.TotalPages)
	default:
		if _, err := facade.SendMessage(ctx, models.Draft{Kind: models.MessageKindText, Content: line}); err != nil {
			fmt.Fprintf(out, "* send failed: %v\n", err)
		}
	}
	return false
}
