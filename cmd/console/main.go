// Command console is a terminal host for the clinic's realtime feed: an
// agenda view of booking changes and an inbox view that raises human
// handoff alerts. Both views share one connection per session.
package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adriangmrraa/dentalogic-sub000/internal/clinic"
	appconfig "github.com/adriangmrraa/dentalogic-sub000/internal/config"
	"github.com/adriangmrraa/dentalogic-sub000/internal/handoff"
	"github.com/adriangmrraa/dentalogic-sub000/internal/realtime"
	"github.com/adriangmrraa/dentalogic-sub000/internal/session"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

func main() {
	if err := appconfig.LoadDotEnv(); err != nil {
		logging.Default().Warn("failed to load .env", "error", err)
	}
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).Component("console")

	if err := cfg.ValidateConsole(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	sess, err := session.Open(cfg.ConsoleToken)
	if err != nil {
		logger.Error("cannot open session", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sess, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("console stopped", "error", err)
		os.Exit(1)
	}
}

// transportsFor lists the transports a channel tries, in order.
func transportsFor(mode, baseURL string) []realtime.Transport {
	ws := realtime.NewWebSocketTransport(baseURL)
	poll := realtime.NewPollingTransport(baseURL)
	switch mode {
	case "websocket":
		return []realtime.Transport{ws}
	case "polling":
		return []realtime.Transport{poll}
	default:
		return []realtime.Transport{ws, poll}
	}
}

// run drives the console until the input ends, the user logs out, the
// session expires or ctx is canceled. The session is logged out on return.
func run(ctx context.Context, cfg *appconfig.Config, sess *session.Session, in io.Reader, out io.Writer, logger *logging.Logger) error {
	defer sess.Logout()
	term := newTerminal(out)

	client := &http.Client{Timeout: 10 * time.Second}
	clinicCfg, err := fetchClinicConfig(ctx, client, cfg.ConsoleAPIURL, sess)
	if err != nil {
		logger.Warn("using default clinic settings", "error", err)
		clinicCfg = clinic.DefaultConfig(sess.TenantID)
	}
	loc := clinicCfg.Location()

	transports := transportsFor(cfg.ConsoleTransport, cfg.ConsoleAPIURL)
	mux := realtime.NewMultiplexer(func(s *session.Session) *realtime.Channel {
		ch := realtime.NewChannel(s, realtime.DefaultTopics(), logger, transports...)
		ch.OnStateChange(func(st realtime.State) {
			if name := ch.Transport(); name != "" {
				term.printf("[realtime] %s via %s", st, name)
				return
			}
			term.printf("[realtime] %s", st)
		})
		return ch
	}, logger)

	agenda, err := openAgenda(mux, sess, term, loc, logger)
	if err != nil {
		return err
	}
	defer agenda.Close()

	inbox, err := openInbox(mux, sess, term, loc, clinicCfg.HandoffVisibility(), logger)
	if err != nil {
		return err
	}
	defer inbox.Close()

	term.printf("%s console for %s. Commands: open, dismiss, close, logout", clinicCfg.Name, sess.UserID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-sess.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sess.Done():
			term.printf("session ended")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "logout" || line == "quit" {
				return nil
			}
			inbox.command(ctx, line)
		}
	}
}

// command runs one inbox command. Failures are printed, never fatal.
func (v *inboxView) command(ctx context.Context, line string) {
	switch line {
	case "":
	case "open":
		if err := v.ctrl.AcknowledgeAndNavigate(ctx); err != nil {
			if errors.Is(err, handoff.ErrNoNotification) {
				v.term.printf("no handoff to open")
				return
			}
			v.term.printf("could not open conversation: %v", err)
		}
	case "dismiss":
		if !v.ctrl.Dismiss() {
			v.term.printf("no handoff to dismiss")
		}
	case "close":
		v.closeConversation()
	default:
		v.term.printf("unknown command %q", line)
	}
}
