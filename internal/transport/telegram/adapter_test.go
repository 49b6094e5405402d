package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "puddlebot/internal/transport"
	logx "puddlebot/pkg/logx"
)

func TestCommandUpdate(t *testing.T) {
	m := &tele.Message{
		ID:       5,
		Text:     "  /track 123 Ky  ",
		ThreadID: 9,
		Chat:     &tele.Chat{ID: -100},
		Sender:   &tele.User{ID: 42, Username: "owner"},
	}
	up, ok := commandUpdate(m)
	require.True(t, ok)
	assert.Equal(t, &kit.Message{ID: 5, ChatID: -100, ThreadID: 9, FromID: 42, FromUsername: "owner", Text: "/track 123 Ky"}, up.Message)

	m.Text = "hello"
	_, ok = commandUpdate(m)
	assert.False(t, ok)

	_, ok = commandUpdate(&tele.Message{Text: "/help"})
	assert.False(t, ok)
	_, ok = commandUpdate(nil)
	assert.False(t, ok)
}

func TestMenuTruncatesAndHashes(t *testing.T) {
	cmds := []kit.BotCommand{
		{Command: "track", Description: "start tracking"},
		{Command: ""},
		{Command: "top", Description: strings.Repeat("é", 300)},
		{Command: "help"},
	}
	out, sum := menu(cmds)
	require.Len(t, out, 3)
	assert.Equal(t, "help", out[2].Description)
	assert.Len(t, []rune(out[1].Description), menuMaxDescription)

	_, again := menu(cmds)
	assert.Equal(t, sum, again)
	_, other := menu(cmds[:1])
	assert.NotEqual(t, sum, other)
}

func TestMenuCapsCommandCount(t *testing.T) {
	cmds := make([]kit.BotCommand, menuMaxCommands+10)
	for i := range cmds {
		cmds[i] = kit.BotCommand{Command: "c"}
	}
	out, _ := menu(cmds)
	assert.Len(t, out, menuMaxCommands)
}

func TestNewRejectsEmptyToken(t *testing.T) {
	_, err := New(Config{Token: "  "}, logx.Nop())
	require.Error(t, err)
}

func TestForwardDropsWhenFull(t *testing.T) {
	a := &Adapter{log: logx.Nop()}
	a.forward(kit.Update{})
	assert.Zero(t, a.dropped.Load())

	out := make(chan kit.Update, 1)
	a.out = out
	a.forward(kit.Update{})
	a.forward(kit.Update{})
	assert.Len(t, out, 1)
	assert.Equal(t, uint64(1), a.dropped.Load())
}
