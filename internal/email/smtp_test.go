package email

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/logger"
)

func TestClassifySMTP(t *testing.T) {
	assert.ErrorIs(t, classifySMTP(&textproto.Error{Code: 535, Msg: "bad credentials"}), certerr.ErrAuth)
	assert.ErrorIs(t, classifySMTP(&textproto.Error{Code: 451, Msg: "try later"}), certerr.ErrTransient)

	rejected := classifySMTP(&textproto.Error{Code: 550, Msg: "no such user"})
	assert.NotErrorIs(t, rejected, certerr.ErrTransient)
	assert.NotErrorIs(t, rejected, certerr.ErrAuth)

	assert.ErrorIs(t, classifySMTP(&net.OpError{Op: "dial", Err: errors.New("refused")}), certerr.ErrTransient)
}

func TestSMTPSender_Send(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	sender := NewSMTPSender(SMTPConfig{
		Host:    "127.0.0.1",
		Port:    addr.Port,
		From:    "certificates@example.org",
		Timeout: time.Second,
	}, logger.Nop())

	_, err = sender.Send(context.Background(), &Message{})
	require.ErrorIs(t, err, ErrNoMessage)

	// Nothing listens on the port any more.
	_, err = sender.Send(context.Background(), &Message{To: "a@example.com", MIME: []byte("x")})
	require.ErrorIs(t, err, certerr.ErrTransient)
}
