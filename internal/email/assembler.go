package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/mail"
	"net/url"
	"path"
	"strings"
	"time"

	gomail "github.com/go-mail/mail"

	"github.com/certgen/certgen/internal/certerr"
)

const (
	// DefaultBoundary separates the parts of every assembled message.
	DefaultBoundary = "certgen_boundary"
	// DefaultFilename names the attachment when the artifact URL has no usable name.
	DefaultFilename = "certificate.png"
	// DefaultMaxArtifactSize caps an artifact download.
	DefaultMaxArtifactSize = 20 << 20

	attachmentType = "image/png"
)

// AssemblerConfig holds the fixed parts of every message.
type AssemblerConfig struct {
	SenderAddress string
	SenderName    string
	ReplyTo       string
	Boundary      string
	// MaxArtifactSize caps the download in bytes.
	MaxArtifactSize int64
	// FetchTimeout bounds the download.
	FetchTimeout time.Duration
}

// Assembler downloads a rendered artifact and packages it into a MIME email.
type Assembler struct {
	client *http.Client
	cfg    AssemblerConfig
}

// NewAssembler creates an Assembler. The client must not carry Google
// credentials; artifact URLs are fetched anonymously.
func NewAssembler(client *http.Client, cfg AssemblerConfig) (*Assembler, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.Boundary == "" {
		cfg.Boundary = DefaultBoundary
	}
	if cfg.MaxArtifactSize <= 0 {
		cfg.MaxArtifactSize = DefaultMaxArtifactSize
	}
	// The writer falls back to a random boundary when given one it cannot use.
	if err := multipart.NewWriter(io.Discard).SetBoundary(cfg.Boundary); err != nil {
		return nil, fmt.Errorf("email: invalid boundary %q: %w", cfg.Boundary, err)
	}
	return &Assembler{client: client, cfg: cfg}, nil
}

// Assemble fetches the artifact at artifactURL and builds the message for to.
func (a *Assembler) Assemble(ctx context.Context, to, subject, body, artifactURL string) (*Message, error) {
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid recipient address: %w", certerr.ErrInvalidInput, err)
	}

	content, err := a.fetch(ctx, artifactURL)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		To:       addr.Address,
		ReplyTo:  a.cfg.ReplyTo,
		Subject:  strings.Join(strings.Fields(subject), " "),
		TextBody: body,
		Attachment: Attachment{
			Filename:    attachmentName(artifactURL),
			ContentType: attachmentType,
			Content:     content,
		},
	}
	if a.cfg.SenderAddress != "" {
		msg.From = (&mail.Address{Name: a.cfg.SenderName, Address: a.cfg.SenderAddress}).String()
	}

	raw, err := a.build(msg)
	if err != nil {
		return nil, err
	}
	msg.MIME = raw
	msg.Raw = base64.URLEncoding.EncodeToString(raw)
	return msg, nil
}

func (a *Assembler) fetch(ctx context.Context, artifactURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fetchCtx := ctx
	if a.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, a.cfg.FetchTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", certerr.ErrFetch, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		// A canceled job is not a fetch failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", certerr.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: artifact returned status %d", certerr.ErrFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.cfg.MaxArtifactSize+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: failed to read artifact: %w", certerr.ErrFetch, err)
	}
	if int64(len(data)) > a.cfg.MaxArtifactSize {
		return nil, fmt.Errorf("%w: artifact exceeds %d bytes", certerr.ErrFetch, a.cfg.MaxArtifactSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: artifact is empty", certerr.ErrFetch)
	}
	return data, nil
}

func (a *Assembler) build(msg *Message) ([]byte, error) {
	m := gomail.NewMessage()
	m.SetBoundary(a.cfg.Boundary)

	if a.cfg.SenderAddress != "" {
		m.SetAddressHeader("From", a.cfg.SenderAddress, a.cfg.SenderName)
	}
	m.SetHeader("To", msg.To)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)

	m.SetBody("text/plain", normalizeNewlines(msg.TextBody), gomail.SetPartEncoding(gomail.Unencoded))

	name := msg.Attachment.Filename
	m.AttachReader(name, bytes.NewReader(msg.Attachment.Content), gomail.SetHeader(map[string][]string{
		"Content-Type": {mime.FormatMediaType(msg.Attachment.ContentType, map[string]string{"name": name})},
	}))

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("email: failed to write message: %w", err)
	}
	return buf.Bytes(), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// attachmentName uses the last path segment of the artifact URL when it names
// a PNG file.
func attachmentName(artifactURL string) string {
	u, err := url.Parse(artifactURL)
	if err != nil {
		return DefaultFilename
	}
	base := path.Base(u.Path)
	if !strings.EqualFold(path.Ext(base), ".png") || strings.ContainsAny(base, "\"\\") {
		return DefaultFilename
	}
	return base
}
