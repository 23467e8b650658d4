package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"time"

	mail "github.com/go-mail/mail"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/logger"
)

// SMTPConfig holds the relay settings for SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// SSL selects implicit TLS. Otherwise STARTTLS is negotiated when offered.
	SSL bool
	// From is the envelope sender address.
	From    string
	Timeout time.Duration
}

// SMTPSender implements Sender by relaying the assembled MIME document.
type SMTPSender struct {
	cfg SMTPConfig
	log *logger.Logger
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig, log *logger.Logger) *SMTPSender {
	return &SMTPSender{cfg: cfg, log: log.WithComponent("smtp")}
}

// Send relays msg.MIME unchanged to the configured server.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if msg == nil || len(msg.MIME) == 0 {
		return nil, ErrNoMessage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.SSL = s.cfg.SSL
	d.TLSConfig = &tls.Config{ServerName: s.cfg.Host}
	if s.cfg.Timeout > 0 {
		d.Timeout = s.cfg.Timeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); d.Timeout == 0 || left < d.Timeout {
			d.Timeout = left
		}
	}

	sc, err := d.Dial()
	if err != nil {
		return nil, classifySMTP(err)
	}
	defer sc.Close()

	// bytes.Reader is an io.WriterTo, which is all the relay needs.
	if err := sc.Send(s.cfg.From, []string{msg.To}, bytes.NewReader(msg.MIME)); err != nil {
		return nil, classifySMTP(err)
	}

	s.log.Debug().Str("host", s.cfg.Host).Msg("email relayed")
	return &Receipt{Provider: "smtp"}, nil
}

func classifySMTP(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch {
		case protoErr.Code == 535 || protoErr.Code == 530:
			return fmt.Errorf("smtp: %w: %w", certerr.ErrAuth, err)
		case protoErr.Code >= 400 && protoErr.Code < 500:
			return fmt.Errorf("smtp: %w: %w", certerr.ErrTransient, err)
		}
		return fmt.Errorf("smtp: %w", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("smtp: %w: %w", certerr.ErrTransient, err)
	}
	return fmt.Errorf("smtp: %w", err)
}
