package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/weiawesome/wes-edu-relay/chat-cli/internal/config"
	"github.com/weiawesome/wes-edu-relay/chat-cli/internal/console"
	"github.com/weiawesome/wes-edu-relay/pkg/chatclient"
	pkglog "github.com/weiawesome/wes-edu-relay/pkg/log"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
	"github.com/weiawesome/wes-edu-relay/pkg/reconcile"
	"golang.org/x/term"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "chat-cli"})
	logger := pkglog.L().With().Str(pkglog.FieldUserID, cfg.Identity.UserID).Logger()

	identity := chatclient.Identity{UserID: cfg.Identity.UserID, Role: cfg.Identity.Role, Name: cfg.Identity.Name}

	mgr := chatclient.NewManager(chatclient.Config{
		URL:               cfg.Relay.URL,
		Identity:          identity,
		ReconnectDelay:    cfg.Relay.ReconnectDelay,
		HeartbeatInterval: cfg.Relay.HeartbeatInterval,
		ReadTimeout:       cfg.Relay.ReadTimeout,
	})
	defer mgr.Close()

	history := chatclient.NewHistoryClient(cfg.History.URL, cfg.History.Timeout)

	var con *console.Console
	inbox := reconcile.NewInbox(identity, history,
		reconcile.WithDedupWindow(cfg.Dedup.Window),
		reconcile.WithOnMessage(func(partnerID string, msg protocol.ChatMessage) {
			con.ShowMessage(partnerID, msg)
		}),
	)
	con = console.New(identity, mgr, inbox, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())))

	reg := mgr.Register(con.Listener())
	detach := inbox.Attach(mgr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = pkglog.WithLogger(ctx, logger)

	logger.Info().Str("relay", cfg.Relay.URL).Str("history", cfg.History.URL).Msg("chat-cli started")
	if err := con.Run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("console stopped")
	}

	detach()
	mgr.Unregister(reg)
	inbox.Wait()
}
