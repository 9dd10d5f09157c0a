package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-edu-relay/pkg/chatclient"
	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
	"github.com/weiawesome/wes-edu-relay/pkg/reconcile"
)

type fakeSession struct {
	status   chatclient.Status
	users    []protocol.OnlineUser
	signOuts int
}

func (s *fakeSession) Status() chatclient.Status          { return s.status }
func (s *fakeSession) OnlineUsers() []protocol.OnlineUser { return s.users }
func (s *fakeSession) SignOut() bool {
	s.signOuts++
	return true
}

type fakeInbox struct {
	focused string
	history map[string][]protocol.ChatMessage
	unread  map[string]int
	sent    []string
	marked  []string
	sendErr error
	openErr error
}

func (i *fakeInbox) Open(_ context.Context, partnerID string) ([]protocol.ChatMessage, error) {
	if i.openErr != nil {
		return nil, i.openErr
	}
	i.focused = partnerID
	return i.history[partnerID], nil
}

func (i *fakeInbox) Leave()                    { i.focused = "" }
func (i *fakeInbox) Focused() string           { return i.focused }
func (i *fakeInbox) MarkRead(partnerID string) { i.marked = append(i.marked, partnerID) }
func (i *fakeInbox) UnreadAll() map[string]int { return i.unread }

func (i *fakeInbox) Send(_ context.Context, partnerID, text string) (protocol.ChatMessage, error) {
	if i.sendErr != nil {
		return protocol.ChatMessage{}, i.sendErr
	}
	i.sent = append(i.sent, partnerID+":"+text)
	return protocol.ChatMessage{}, nil
}

var teacher = chatclient.Identity{UserID: "t1", Role: protocol.RoleTeacher, Name: "Ms T"}

func newTestConsole() (*Console, *fakeSession, *fakeInbox, *bytes.Buffer) {
	session := &fakeSession{status: chatclient.StatusConnected}
	inbox := &fakeInbox{history: make(map[string][]protocol.ChatMessage)}
	out := &bytes.Buffer{}
	return New(teacher, session, inbox, out, false), session, inbox, out
}

func TestOpenPrintsHistory(t *testing.T) {
	c, _, inbox, out := newTestConsole()
	inbox.history["p1"] = []protocol.ChatMessage{
		protocol.NewChat(protocol.RoleParent, "t1", "p1", "is the trip on?", time.UnixMilli(1000)),
		protocol.NewChat(protocol.RoleTeacher, "t1", "p1", "yes", time.UnixMilli(2000)),
	}

	require.NoError(t, c.Execute(context.Background(), "/open p1"))
	assert.Equal(t, "p1", inbox.focused)
	assert.Contains(t, out.String(), "--- p1 (2 messages)")
	assert.Contains(t, out.String(), "p1: is the trip on?")
	assert.Contains(t, out.String(), "me: yes")
}

func TestPlainTextGoesToFocusedConversation(t *testing.T) {
	c, _, inbox, _ := newTestConsole()
	ctx := context.Background()

	err := c.Execute(ctx, "hello")
	assert.ErrorContains(t, err, "no open conversation")

	inbox.focused = "p1"
	require.NoError(t, c.Execute(ctx, "  hello there  "))
	assert.Equal(t, []string{"p1:hello there"}, inbox.sent)

	require.NoError(t, c.Execute(ctx, "   "))
	assert.Len(t, inbox.sent, 1)
}

func TestSendWhileDisconnectedReportsStatus(t *testing.T) {
	c, session, inbox, _ := newTestConsole()
	session.status = chatclient.StatusConnecting
	inbox.focused = "p1"
	inbox.sendErr = reconcile.ErrNotConnected

	err := c.Execute(context.Background(), "hello")
	assert.EqualError(t, err, "connecting, message not sent")

	inbox.sendErr = errors.New("boom")
	assert.EqualError(t, c.Execute(context.Background(), "hello"), "boom")
}

func TestCommands(t *testing.T) {
	c, session, inbox, out := newTestConsole()
	ctx := context.Background()

	session.users = []protocol.OnlineUser{{UserID: "p1", Name: "Mr P", Role: protocol.RoleParent}}
	require.NoError(t, c.Execute(ctx, "/who"))
	assert.Contains(t, out.String(), "Mr P (p1, parent)")

	inbox.unread = map[string]int{"p2": 1, "p1": 3}
	out.Reset()
	require.NoError(t, c.Execute(ctx, "/unread"))
	assert.Equal(t, "  p1: 3\n  p2: 1\n", out.String())

	require.NoError(t, c.Execute(ctx, "/read p1"))
	assert.Equal(t, []string{"p1"}, inbox.marked)

	inbox.focused = "p1"
	require.NoError(t, c.Execute(ctx, "/close"))
	assert.Empty(t, inbox.focused)

	out.Reset()
	require.NoError(t, c.Execute(ctx, "/status"))
	assert.Equal(t, "* connected\n", out.String())

	inbox.openErr = errors.New("history down")
	assert.ErrorContains(t, c.Execute(ctx, "/open p2"), "failed to open conversation")

	assert.Error(t, c.Execute(ctx, "/open"))
	assert.Error(t, c.Execute(ctx, "/read"))
	assert.ErrorContains(t, c.Execute(ctx, "/dance"), "unknown command")

	assert.ErrorIs(t, c.Execute(ctx, "/quit"), errQuit)
	assert.Equal(t, 1, session.signOuts)
}

func TestEmptyListings(t *testing.T) {
	c, _, _, out := newTestConsole()
	require.NoError(t, c.Execute(context.Background(), "/who"))
	require.NoError(t, c.Execute(context.Background(), "/unread"))
	assert.Equal(t, "* nobody online\n* no unread messages\n", out.String())
}

func TestShowMessage(t *testing.T) {
	c, _, inbox, out := newTestConsole()

	msg := protocol.NewChat(protocol.RoleParent, "t1", "p1", "thanks", time.UnixMilli(1000))
	c.ShowMessage("p1", msg)
	assert.Equal(t, "* new message from p1\n", out.String())

	// Own messages in a background conversation are not announced.
	out.Reset()
	c.ShowMessage("p2", protocol.NewChat(protocol.RoleTeacher, "t1", "p2", "hi", time.UnixMilli(1000)))
	assert.Empty(t, out.String())

	inbox.focused = "p1"
	out.Reset()
	c.ShowMessage("p1", msg)
	assert.True(t, strings.HasSuffix(out.String(), "p1: thanks\n"))
}

func TestListenerPrintsEvents(t *testing.T) {
	c, _, _, out := newTestConsole()
	l := c.Listener()

	l.OnStatusChange(chatclient.StatusError)
	l.OnPresenceUpdate(make([]protocol.OnlineUser, 3))
	l.OnSystem(protocol.NewSystem("connected to relay", time.Now()))

	assert.Equal(t, "* error\n* 3 online\n* connected to relay\n", out.String())
}

func TestRunStopsOnQuitAndEOF(t *testing.T) {
	c, session, inbox, out := newTestConsole()
	inbox.focused = "p1"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := c.Run(ctx, strings.NewReader("first\n/bogus\n/quit\nnever sent\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"p1:first"}, inbox.sent)
	assert.Equal(t, 1, session.signOuts)
	assert.Contains(t, out.String(), "! unknown command /bogus")

	require.NoError(t, c.Run(context.Background(), strings.NewReader("")))
}

func TestRunStopsOnContext(t *testing.T) {
	c, _, _, _ := newTestConsole()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocking, writer := io.Pipe()
	defer writer.Close()
	assert.ErrorIs(t, c.Run(ctx, blocking), context.Canceled)
}
