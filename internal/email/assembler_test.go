package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/mail"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certgen/certgen/internal/certerr"
)

const artifactURL = "https://lh3.googleusercontent.com/render/snap-42.png"

func newMockedAssembler(t *testing.T, cfg AssemblerConfig) (*Assembler, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	a, err := NewAssembler(&http.Client{Transport: transport}, cfg)
	require.NoError(t, err)
	return a, transport
}

func pngBytes(n int) []byte {
	b := []byte("\x89PNG\r\n\x1a\n")
	for i := 0; len(b) < n; i++ {
		b = append(b, byte(i))
	}
	return b
}

func TestAssembler_MIMEStructure(t *testing.T) {
	image := pngBytes(300)
	a, transport := newMockedAssembler(t, AssemblerConfig{
		SenderAddress: "certificates@example.org",
		SenderName:    "Certificates",
		ReplyTo:       "noreply@example.org",
	})
	transport.RegisterResponder(http.MethodGet, artifactURL, httpmock.NewBytesResponder(http.StatusOK, image))

	msg, err := a.Assemble(context.Background(), "alice@example.com", "Your certificate, Zoë", "Hello Alice,\nwell done.", artifactURL)
	require.NoError(t, err)

	decoded, err := base64.URLEncoding.DecodeString(msg.Raw)
	require.NoError(t, err)
	assert.Equal(t, msg.MIME, decoded)

	parsed, err := mail.ReadMessage(bytes.NewReader(msg.MIME))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", parsed.Header.Get("To"))
	assert.Equal(t, "noreply@example.org", parsed.Header.Get("Reply-To"))
	assert.Equal(t, "1.0", parsed.Header.Get("MIME-Version"))

	subject, err := new(mime.WordDecoder).DecodeHeader(parsed.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Your certificate, Zoë", subject)

	from, err := mail.ParseAddress(parsed.Header.Get("From"))
	require.NoError(t, err)
	assert.Equal(t, "certificates@example.org", from.Address)

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)
	assert.Equal(t, DefaultBoundary, params["boundary"])

	mr := multipart.NewReader(parsed.Body, params["boundary"])

	text, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=UTF-8", text.Header.Get("Content-Type"))
	assert.Equal(t, "8bit", text.Header.Get("Content-Transfer-Encoding"))
	body, err := io.ReadAll(text)
	require.NoError(t, err)
	assert.Equal(t, "Hello Alice,\r\nwell done.", string(body))

	att, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "base64", att.Header.Get("Content-Transfer-Encoding"))
	attType, attParams, err := mime.ParseMediaType(att.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "image/png", attType)
	assert.Equal(t, "snap-42.png", attParams["name"])
	assert.Equal(t, "snap-42.png", att.FileName())
	disposition, _, err := mime.ParseMediaType(att.Header.Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)

	encoded, err := io.ReadAll(att)
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimRight(string(encoded), "\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}
	content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(encoded), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, image, content)
	assert.Equal(t, image, msg.Attachment.Content)

	_, err = mr.NextPart()
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, bytes.HasSuffix(msg.MIME, []byte("--"+DefaultBoundary+"--\r\n")))
}

func TestAssembler_FetchFailures(t *testing.T) {
	a, transport := newMockedAssembler(t, AssemblerConfig{MaxArtifactSize: 64})
	ctx := context.Background()

	transport.RegisterResponder(http.MethodGet, "https://render.example/missing.png", httpmock.NewStringResponder(http.StatusNotFound, "gone"))
	transport.RegisterResponder(http.MethodGet, "https://render.example/huge.png", httpmock.NewBytesResponder(http.StatusOK, pngBytes(65)))
	transport.RegisterResponder(http.MethodGet, "https://render.example/broken.png", httpmock.NewErrorResponder(io.ErrUnexpectedEOF))

	for _, u := range []string{"https://render.example/missing.png", "https://render.example/huge.png", "https://render.example/broken.png"} {
		_, err := a.Assemble(ctx, "alice@example.com", "s", "b", u)
		require.ErrorIs(t, err, certerr.ErrFetch, u)
		assert.Equal(t, certerr.KindFetch, certerr.Kind(err))
	}
}

func TestAssembler_CanceledIsNotFetchFailure(t *testing.T) {
	a, transport := newMockedAssembler(t, AssemblerConfig{})
	transport.RegisterResponder(http.MethodGet, artifactURL, httpmock.NewBytesResponder(http.StatusOK, pngBytes(10)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Assemble(ctx, "alice@example.com", "s", "b", artifactURL)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, certerr.ErrFetch)
}

func TestAssembler_InvalidRecipient(t *testing.T) {
	a, transport := newMockedAssembler(t, AssemblerConfig{})

	_, err := a.Assemble(context.Background(), "not an address", "s", "b", artifactURL)
	require.ErrorIs(t, err, certerr.ErrInvalidInput)
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestNewAssembler_InvalidBoundary(t *testing.T) {
	_, err := NewAssembler(nil, AssemblerConfig{Boundary: "bad boundary\n"})
	require.Error(t, err)
}

func TestAttachmentName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://host/a/b/render.png", "render.png"},
		{"https://host/a/b/RENDER.PNG?x=1", "RENDER.PNG"},
		{"https://host/a/AKf3x=s1600", DefaultFilename},
		{"https://host/", DefaultFilename},
		{"::not a url", DefaultFilename},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, attachmentName(tt.url), tt.url)
	}
}

func TestContent_Render(t *testing.T) {
	c, err := ParseContent("Your certificate,\n {{.Name}}", "Hello {{.Name}} <{{.Email}}>")
	require.NoError(t, err)

	subject, body, err := c.Render(Recipient{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Your certificate, Ada", subject)
	assert.Equal(t, "Hello Ada <ada@example.com>", body)

	_, err = ParseContent("{{.Name", "")
	assert.Error(t, err)
}
