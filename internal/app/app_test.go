package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/credential"
	"github.com/certgen/certgen/internal/logger"
	"github.com/certgen/certgen/internal/pipeline"
	"github.com/certgen/certgen/internal/slides/slidestest"
)

const templateText = "This certifies that <<NAME>> completed the course"

type gmailStub struct {
	*httptest.Server
	mu  sync.Mutex
	raw []string
}

func newGmailStub(t *testing.T) *gmailStub {
	g := &gmailStub{}
	g.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Raw string `json:"raw"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		g.raw = append(g.raw, body.Raw)
		g.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg-1","threadId":"thread-1"}`))
	}))
	t.Cleanup(g.Close)
	return g
}

func testConfig(slidesEndpoint, gmailEndpoint string) *config.Config {
	cfg := &config.Config{}
	cfg.Google.SlidesEndpoint = slidesEndpoint
	cfg.Google.GmailEndpoint = gmailEndpoint
	cfg.Template.PresentationID = "template-doc"
	cfg.Template.Placeholder = "<<NAME>>"
	cfg.Template.ThumbnailSize = "LARGE"
	cfg.Email.Provider = "gmail"
	cfg.Email.SenderAddress = "certificates@example.com"
	cfg.Email.Subject = "Your certificate, {{.Name}}"
	cfg.Email.Body = "Hello {{.Name}}"
	cfg.Lock.WaitTimeout = 5 * time.Second
	cfg.Timeouts.Slides = 5 * time.Second
	cfg.Timeouts.Fetch = 5 * time.Second
	cfg.Timeouts.Mail = 5 * time.Second
	cfg.Timeouts.Reset = 5 * time.Second
	return cfg
}

func TestBuild_EndToEnd(t *testing.T) {
	slidesSrv := slidestest.NewServer()
	t.Cleanup(slidesSrv.Close)
	slidesSrv.AddPresentation("template-doc", templateText)
	gmail := newGmailStub(t)

	cfg := testConfig(slidesSrv.Endpoint(), gmail.URL+"/")
	a, err := build(cfg, credential.Static(slidesSrv.Client()), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Jobs)
	assert.Nil(t, a.Events)

	res, err := a.Orchestrator.Run(context.Background(), pipeline.Request{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", res.Receipt.MessageID)
	assert.Equal(t, templateText, slidesSrv.Text("template-doc", 0))

	gmail.mu.Lock()
	defer gmail.mu.Unlock()
	require.Len(t, gmail.raw, 1)
	mime, err := base64.URLEncoding.DecodeString(gmail.raw[0])
	require.NoError(t, err)
	assert.Contains(t, string(mime), "To: alice@example.com\r\n")
	assert.Contains(t, string(mime), "Hello Alice")
}

func TestBuild_InvalidContent(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1/", "http://127.0.0.1:1/")
	cfg.Email.Subject = "{{.Name"
	_, err := build(cfg, credential.Static(http.DefaultClient), logger.Nop())
	require.Error(t, err)
}

func TestBuild_UnknownProvider(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1/", "http://127.0.0.1:1/")
	cfg.Email.Provider = "pigeon"
	_, err := build(cfg, credential.Static(http.DefaultClient), logger.Nop())
	require.Error(t, err)
}

func TestNew_RequiresCredentials(t *testing.T) {
	cfg := testConfig("", "")
	_, err := New(context.Background(), cfg, logger.Nop())
	require.ErrorIs(t, err, certerr.ErrAuth)
}

func TestNew_ValidatesConfig(t *testing.T) {
	cfg := testConfig("", "")
	cfg.Template.PresentationID = ""
	_, err := New(context.Background(), cfg, logger.Nop())
	require.Error(t, err)
}
