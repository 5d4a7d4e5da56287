// File: cmd/sandbox.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/domrelay/internal/bridge"
	"github.com/xkilldash9x/domrelay/internal/observability"
	"github.com/xkilldash9x/domrelay/internal/service"
	"github.com/xkilldash9x/domrelay/internal/snapshot"
)

const sandboxHTML = `<html><head><title>Sandbox</title></head>
<body><h1>Sandbox</h1><a href="/next">Next</a><input id="q" value=""></body></html>`

const sandboxHelp = `Each line is evaluated in the page realm and its value printed.
  :nocap <code>   evaluate without capturing the value
  :snapshot       print the sanitized page snapshot
  :help           show this help
  exit, quit      leave`

func newSandboxCmd() *cobra.Command {
	var (
		url      string
		htmlFile string
	)

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Evaluate code in an embedded page realm over the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			html := sandboxHTML
			if htmlFile != "" {
				data, err := os.ReadFile(htmlFile)
				if err != nil {
					return fmt.Errorf("failed to read page: %w", err)
				}
				html = string(data)
			}

			nonce := bridge.NewNonce()
			realm, err := service.NewEmbeddedRealm(url, html, nonce, logger)
			if err != nil {
				return err
			}
			defer realm.Close()

			b := bridge.New(realm.Channel(), bridge.Options{
				Origin:         realm.Origin(),
				Nonce:          nonce,
				RequestTimeout: cfg.Bridge.RequestTimeout,
			}, logger)
			defer b.Close()

			if err := realm.Start(ctx); err != nil {
				return err
			}
			readyCtx, cancel := context.WithTimeout(ctx, cfg.Bridge.ReadyTimeout)
			defer cancel()
			if err := b.WaitReady(readyCtx); err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "page> ",
				HistoryFile:     sandboxHistoryFile(),
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				Stdin:           readline.NewCancelableStdin(os.Stdin),
				Stdout:          cmd.OutOrStdout(),
				Stderr:          cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize readline: %w", err)
			}
			defer rl.Close()

			fmt.Fprintln(rl.Stdout(), sandboxHelp)
			return runSandbox(ctx, rl, b, cfg.Snapshot.MaxLength)
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "https://sandbox.test/", "URL the document is loaded at")
	cmd.Flags().StringVar(&htmlFile, "html", "", "HTML file to load instead of the built-in page")
	return cmd
}

func sandboxHistoryFile() string {
	home, err := homedir.Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".domrelay", "sandbox_history")
}

type lineReader interface {
	Readline() (string, error)
	Stdout() io.Writer
}

func runSandbox(ctx context.Context, rl lineReader, r snapshot.Requester, maxSnapshot int) error {
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			return nil
		}
		if out := evalLine(ctx, r, line, maxSnapshot); out != "" {
			fmt.Fprintln(rl.Stdout(), out)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// evalLine runs one sandbox line and renders the outcome.
func evalLine(ctx context.Context, r snapshot.Requester, line string, maxSnapshot int) string {
	switch {
	case line == "":
		return ""
	case line == ":help":
		return sandboxHelp
	case line == ":snapshot":
		snap, err := snapshot.Capture(ctx, r, maxSnapshot)
		if err != nil {
			return "error: " + err.Error()
		}
		return snap.URL + "\n" + snap.HTML
	}

	code, capture := line, true
	if rest, ok := strings.CutPrefix(line, ":nocap"); ok {
		code, capture = strings.TrimSpace(rest), false
	}
	res, err := r.Send(ctx, code, capture)
	if err != nil {
		return "bridge error: " + err.Error()
	}
	return res.String()
}
