// Package console is the line-oriented chat front end: commands start with
// "/", anything else is sent to the open conversation.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/weiawesome/wes-edu-relay/pkg/chatclient"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
	"github.com/weiawesome/wes-edu-relay/pkg/reconcile"
)

var errQuit = errors.New("quit")

// Session is the part of the connection manager the console reads.
type Session interface {
	Status() chatclient.Status
	OnlineUsers() []protocol.OnlineUser
	SignOut() bool
}

// Inbox is the part of the reconciliation layer the console drives.
type Inbox interface {
	Open(ctx context.Context, partnerID string) ([]protocol.ChatMessage, error)
	Leave()
	Focused() string
	MarkRead(partnerID string)
	UnreadAll() map[string]int
	Send(ctx context.Context, partnerID, text string) (protocol.ChatMessage, error)
}

type Console struct {
	self    chatclient.Identity
	session Session
	inbox   Inbox
	prompt  bool

	mu  sync.Mutex
	out io.Writer
}

func New(self chatclient.Identity, session Session, inbox Inbox, out io.Writer, prompt bool) *Console {
	return &Console{self: self, session: session, inbox: inbox, out: out, prompt: prompt}
}

// Listener returns callbacks that print connection events.
func (c *Console) Listener() chatclient.Listener {
	return chatclient.Listener{
		OnStatusChange: func(s chatclient.Status) {
			c.printf("* %s\n", s)
		},
		OnPresenceUpdate: func(users []protocol.OnlineUser) {
			c.printf("* %d online\n", len(users))
		},
		OnSystem: func(sys protocol.System) {
			c.printf("* %s\n", sys.Text)
		},
	}
}

// ShowMessage prints a live message accepted by the inbox.
func (c *Console) ShowMessage(partnerID string, msg protocol.ChatMessage) {
	if partnerID == c.inbox.Focused() {
		c.printf("%s\n", c.format(msg))
		return
	}
	if msg.Sender != c.self.Role {
		c.printf("* new message from %s\n", partnerID)
	}
}

// Run reads commands from in until EOF, /quit or ctx ends.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.showPrompt()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				c.printf("! %v\n", err)
			}
			c.showPrompt()
		}
	}
}

// Execute runs one input line.
func (c *Console) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.send(ctx, line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/open":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /open <partner>")
		}
		return c.open(ctx, fields[1])
	case "/close":
		c.inbox.Leave()
		return nil
	case "/read":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /read <partner>")
		}
		c.inbox.MarkRead(fields[1])
		return nil
	case "/unread":
		c.unread()
		return nil
	case "/who":
		c.who()
		return nil
	case "/status":
		c.printf("* %s\n", c.session.Status())
		return nil
	case "/quit":
		c.session.SignOut()
		return errQuit
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}

func (c *Console) open(ctx context.Context, partnerID string) error {
	msgs, err := c.inbox.Open(ctx, partnerID)
	if err != nil {
		return fmt.Errorf("failed to open conversation: %w", err)
	}
	c.printf("--- %s (%d messages)\n", partnerID, len(msgs))
	for _, msg := range msgs {
		c.printf("%s\n", c.format(msg))
	}
	return nil
}

func (c *Console) send(ctx context.Context, text string) error {
	partnerID := c.inbox.Focused()
	if partnerID == "" {
		return fmt.Errorf("no open conversation, use /open <partner>")
	}
	if _, err := c.inbox.Send(ctx, partnerID, text); err != nil {
		if errors.Is(err, reconcile.ErrNotConnected) {
			return fmt.Errorf("%s, message not sent", c.session.Status())
		}
		return err
	}
	return nil
}

func (c *Console) unread() {
	counts := c.inbox.UnreadAll()
	if len(counts) == 0 {
		c.printf("* no unread messages\n")
		return
	}
	partners := make([]string, 0, len(counts))
	for p := range counts {
		partners = append(partners, p)
	}
	sort.Strings(partners)
	for _, p := range partners {
		c.printf("  %s: %d\n", p, counts[p])
	}
}

func (c *Console) who() {
	users := c.session.OnlineUsers()
	if len(users) == 0 {
		c.printf("* nobody online\n")
		return
	}
	for _, u := range users {
		c.printf("  %s (%s, %s)\n", u.Name, u.UserID, u.Role)
	}
}

func (c *Console) format(msg protocol.ChatMessage) string {
	who := msg.SenderID()
	if msg.Sender == c.self.Role {
		who = "me"
	}
	return fmt.Sprintf("[%s] %s: %s", msg.SentAt().Format(time.Kitchen), who, msg.Text)
}

func (c *Console) showPrompt() {
	if !c.prompt {
		return
	}
	if p := c.inbox.Focused(); p != "" {
		c.printf("%s> ", p)
		return
	}
	c.printf("> ")
}

func (c *Console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
