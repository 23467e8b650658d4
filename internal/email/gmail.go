package email

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/credential"
	"github.com/certgen/certgen/internal/logger"
)

// GmailSender implements Sender using the Gmail API on behalf of the
// authorized mailbox.
type GmailSender struct {
	provider credential.Provider
	timeout  time.Duration
	opts     []option.ClientOption
	log      *logger.Logger
}

// NewGmailSender creates a GmailSender. A non-empty endpoint overrides the API base URL.
func NewGmailSender(provider credential.Provider, timeout time.Duration, endpoint string, log *logger.Logger) *GmailSender {
	var opts []option.ClientOption
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return &GmailSender{
		provider: provider,
		timeout:  timeout,
		opts:     opts,
		log:      log.WithComponent("gmail"),
	}
}

// Send submits msg.Raw through users.messages.send.
func (g *GmailSender) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if msg == nil || msg.Raw == "" {
		return nil, ErrNoMessage
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cred, err := g.provider.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(cred.HTTPClient)}, g.opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to create service: %w", err)
	}

	sent, err := svc.Users.Messages.Send("me", &gmail.Message{Raw: msg.Raw}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to send email: %w", certerr.FromGoogleAPI(err))
	}

	g.log.Debug().Str("message_id", sent.Id).Msg("email sent")
	return &Receipt{Provider: "gmail", MessageID: sent.Id, ThreadID: sent.ThreadId}, nil
}
