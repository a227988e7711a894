// Терминальный клиент бесед: входящие, открытая беседа с присутствием и индикатором набора.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/creatif-sam/ambf-connect/internal/client"
	"github.com/creatif-sam/ambf-connect/internal/config"
	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/middleware"
	"github.com/creatif-sam/ambf-connect/internal/thread"
)

type flags struct {
	api         string
	token       string
	jwtSecret   string
	as          string
	typingDecay time.Duration
}

func main() {
	logger.SetPrefix("chat")
	cfg := config.Load()
	f := &flags{}

	app := &cli.Command{
		Name:  "connect-chat",
		Usage: "Direct messages from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "api",
				Usage:       "API base URL",
				Sources:     cli.EnvVars("API_BASE_URL"),
				Value:       cfg.APIBaseURL,
				Destination: &f.api,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "access token (JWT)",
				Sources:     cli.EnvVars("CONNECT_TOKEN"),
				Destination: &f.token,
			},
			&cli.StringFlag{
				Name:        "jwt-secret",
				Usage:       "sign a local token with this secret instead of --token (development)",
				Sources:     cli.EnvVars("JWT_SECRET"),
				Value:       cfg.JWTSecret,
				Destination: &f.jwtSecret,
			},
			&cli.StringFlag{
				Name:        "as",
				Usage:       "user id for the locally signed token",
				Destination: &f.as,
			},
			&cli.DurationFlag{
				Name:        "typing-decay",
				Usage:       "how long the typing indicator stays on",
				Value:       cfg.TypingDecay,
				Destination: &f.typingDecay,
			},
		},
		Commands: []*cli.Command{
			inboxCmd(f),
			threadCmd(f),
			tokenCmd(f),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		logger.Flush()
		os.Exit(1)
	}
	logger.Flush()
}

// accessToken возвращает --token или подписывает локальный токен для --as.
func (f *flags) accessToken() (string, error) {
	if f.token != "" {
		return f.token, nil
	}
	if f.as != "" && f.jwtSecret != "" {
		return middleware.IssueToken(f.jwtSecret, f.as, "", 12*time.Hour)
	}
	return "", errors.New("either --token or --as with --jwt-secret is required")
}

func tokenCmd(f *flags) *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Print a locally signed access token (development)",
		UsageText: "connect-chat --jwt-secret <secret> token --name <full name> <user-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "full name claim"},
			&cli.DurationFlag{Name: "ttl", Value: 12 * time.Hour},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			sub := c.Args().First()
			if sub == "" || f.jwtSecret == "" {
				return errors.New("user id argument and --jwt-secret are required")
			}
			token, err := middleware.IssueToken(f.jwtSecret, sub, c.String("name"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func inboxCmd(f *flags) *cli.Command {
	return &cli.Command{
		Name:  "inbox",
		Usage: "List conversations, most recent first",
		Action: func(ctx context.Context, c *cli.Command) error {
			token, err := f.accessToken()
			if err != nil {
				return err
			}
			convs, err := client.NewREST(f.api, token).Conversations(ctx)
			if err != nil {
				return err
			}
			return printInbox(os.Stdout, convs)
		},
	}
}

func threadCmd(f *flags) *cli.Command {
	return &cli.Command{
		Name:      "thread",
		Usage:     "Open a conversation; every input line is sent as a message",
		UsageText: "connect-chat thread <user-id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			peer := c.Args().First()
			if peer == "" {
				return errors.New("user id argument is required")
			}
			token, err := f.accessToken()
			if err != nil {
				return err
			}
			return runThread(ctx, f, token, peer, os.Stdin, os.Stdout)
		},
	}
}

func runThread(ctx context.Context, f *flags, token, peer string, in io.Reader, out io.Writer) error {
	rest := client.NewREST(f.api, token)
	me, err := rest.Me(ctx)
	if err != nil {
		return fmt.Errorf("who am i: %w", err)
	}
	rt, err := client.Dial(ctx, client.WebSocketURL(f.api), token)
	if err != nil {
		return err
	}
	defer rt.Close()

	view := newRenderer(out, me.ID)
	th, err := thread.New(me.ID, peer, thread.Options{
		Store:       rest,
		Profiles:    rest,
		Realtime:    rt,
		TypingDecay: f.typingDecay,
		OnChange:    view.Render,
	})
	if err != nil {
		return err
	}
	if err := th.Open(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = th.Close(closeCtx)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rt.Done():
			return errors.New("realtime connection lost")
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return nil
			}
			if err := th.Keystroke(ctx); err != nil {
				logger.Debugf("typing signal: %v", err)
			}
			if err := th.Send(ctx, line); err != nil {
				fmt.Fprintln(out, "! not sent:", err)
			}
		}
	}
}
