package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"drawbot/internal/domain"
	"drawbot/internal/results"
	"drawbot/internal/session"
)

type sentItem struct {
	kind string // "text", "image", "url"
	text string
	data []byte
}

type fakeChannel struct {
	mu    sync.Mutex
	sends map[string][]sentItem
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{sends: map[string][]sentItem{}}
}

func (c *fakeChannel) SendText(ctx context.Context, userID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends[userID] = append(c.sends[userID], sentItem{kind: "text", text: text})
	return nil
}

func (c *fakeChannel) SendImage(ctx context.Context, userID, filename string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends[userID] = append(c.sends[userID], sentItem{kind: "image", text: filename, data: data})
	return nil
}

func (c *fakeChannel) SendImageURL(ctx context.Context, userID, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends[userID] = append(c.sends[userID], sentItem{kind: "url", text: url})
	return nil
}

func (c *fakeChannel) texts(userID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, item := range c.sends[userID] {
		if item.kind == "text" {
			out = append(out, item.text)
		}
	}
	return out
}

func (c *fakeChannel) ofKind(userID, kind string) []sentItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentItem
	for _, item := range c.sends[userID] {
		if item.kind == kind {
			out = append(out, item)
		}
	}
	return out
}

type fakeRunner struct {
	mu    sync.Mutex
	specs []domain.TaskSpec
	items []domain.ResultItem
	err   error
	gate  chan struct{} // when set, Run blocks until closed
}

func (r *fakeRunner) Run(ctx context.Context, spec domain.TaskSpec) ([]domain.ResultItem, error) {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return r.items, r.err
}

func (r *fakeRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.specs)
}

func (r *fakeRunner) lastSpec() domain.TaskSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.specs[len(r.specs)-1]
}

type fakeCreds struct {
	mu      sync.Mutex
	current domain.Credential
	setErr  error
}

func (f *fakeCreds) Get() domain.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeCreds) Set(ctx context.Context, cred domain.Credential) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = cred
	return nil
}

func (f *fakeCreds) Refresh(ctx context.Context) (domain.Credential, error) {
	return f.Get(), nil
}

func (f *fakeCreds) RefreshIfStale(ctx context.Context) domain.Credential {
	return f.Get()
}

type fakePassport struct {
	challenge string
	smsErr    error
	seed      string
	loginErr  error

	lastPhone, lastCode, lastChallenge string
}

func (f *fakePassport) SendSMS(ctx context.Context, phone string) (string, error) {
	f.lastPhone = phone
	return f.challenge, f.smsErr
}

func (f *fakePassport) LoginWithSMS(ctx context.Context, phone, code, challenge string) (string, error) {
	f.lastPhone, f.lastCode, f.lastChallenge = phone, code, challenge
	return f.seed, f.loginErr
}

type fakeImaging struct {
	mu         sync.Mutex
	total      int
	available  int
	balanceErr error
	signIns    int
	signInErr  error
	uploadURL  string
	uploadErr  error
	uploaded   [][]byte
}

func (f *fakeImaging) CreditBalance(ctx context.Context, cred domain.Credential) (int, int, error) {
	return f.total, f.available, f.balanceErr
}

func (f *fakeImaging) DailySignIn(ctx context.Context, cred domain.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signIns++
	return f.signInErr
}

func (f *fakeImaging) UploadImage(ctx context.Context, cred domain.Credential, filename string, data []byte, taskType domain.TaskType) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, data)
	return f.uploadURL, f.uploadErr
}

type fakeVault struct {
	mu     sync.Mutex
	nextID string
	stored map[string]*results.StoredResult
}

func newFakeVault(nextID string) *fakeVault {
	return &fakeVault{nextID: nextID, stored: map[string]*results.StoredResult{}}
}

func (v *fakeVault) NewID() string { return v.nextID }

func (v *fakeVault) Store(ctx context.Context, id string, urls []string, metadata map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stored[id] = &results.StoredResult{ID: id, URLs: urls, Metadata: metadata, CreatedAt: time.Now()}
	return nil
}

func (v *fakeVault) Fetch(ctx context.Context, id string) (*results.StoredResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.stored[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

type fakeSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeSettings() *fakeSettings { return &fakeSettings{values: map[string]string{}} }

func (f *fakeSettings) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key], nil
}

func (f *fakeSettings) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

type fixture struct {
	bot      *Bot
	channel  *fakeChannel
	runner   *fakeRunner
	creds    *fakeCreds
	passport *fakePassport
	imaging  *fakeImaging
	vault    *fakeVault
	settings *fakeSettings
	sessions *session.Manager
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		channel:  newFakeChannel(),
		runner:   &fakeRunner{},
		creds:    &fakeCreds{current: domain.Credential{SessionCookie: "session=abc; XSRF-TOKEN=tok", RefreshedAt: time.Now()}},
		passport: &fakePassport{challenge: "challenge-1", seed: "sso_ticket=seed"},
		imaging:  &fakeImaging{total: 100, available: 42, uploadURL: "https://oss.example.com/base.png"},
		vault:    newFakeVault("1700000000"),
		settings: newFakeSettings(),
		sessions: session.NewManager(session.Options{}),
	}
	b, err := New(Options{
		Sessions: f.sessions,
		Runner:   f.runner,
		Creds:    f.creds,
		Passport: f.passport,
		Imagine:  f.imaging,
		Results:  f.vault,
		Settings: f.settings,
		Channel:  f.channel,
		Logger:   zerolog.New(io.Discard),
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(testPNG()))}, nil
		})},
	})
	require.NoError(t, err)
	f.bot = b
	return f
}

func testPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 0xff, A: 0xff})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func TestHelpCommand(t *testing.T) {
	f := newFixture(t)
	f.bot.HandleText(context.Background(), "u1", "en", "help")
	texts := f.channel.texts("u1")
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "draw <prompt>")
}

func TestUnknownTextIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.bot.HandleText(context.Background(), "u1", "en", "hello everyone")
	require.Empty(t, f.channel.texts("u1"))
}

func TestCommandReroutesToLoginWhenNeeded(t *testing.T) {
	f := newFixture(t)
	f.sessions.SetNeedsLogin(true)

	f.bot.HandleText(context.Background(), "u1", "en", "draw a fox")
	require.Equal(t, session.StateAwaitingLoginPhone, f.sessions.State("u1"))
	require.Equal(t, 0, f.runner.calls())

	texts := f.channel.texts("u1")
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "11-digit phone")
}

func TestLoginFlowEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.creds.current = domain.Credential{}
	ctx := context.Background()

	f.bot.HandleText(ctx, "u1", "en", "draw a fox")
	require.Equal(t, session.StateAwaitingLoginPhone, f.sessions.State("u1"))

	// Malformed phone re-prompts without a transition.
	f.bot.HandleText(ctx, "u1", "en", "12345")
	require.Equal(t, session.StateAwaitingLoginPhone, f.sessions.State("u1"))

	f.bot.HandleText(ctx, "u1", "en", "13812345678")
	require.Equal(t, session.StateAwaitingLoginCode, f.sessions.State("u1"))

	// Malformed code re-prompts without a transition.
	f.bot.HandleText(ctx, "u1", "en", "99")
	require.Equal(t, session.StateAwaitingLoginCode, f.sessions.State("u1"))

	f.bot.HandleText(ctx, "u1", "en", "654321")
	require.Equal(t, session.StateIdle, f.sessions.State("u1"))
	require.False(t, f.sessions.NeedsLogin())
	require.Equal(t, "654321", f.passport.lastCode)
	require.Equal(t, "challenge-1", f.passport.lastChallenge)
	require.Equal(t, "sso_ticket=seed", f.creds.Get().SessionCookie)
	require.Equal(t, 1, f.imaging.signIns)

	texts := f.channel.texts("u1")
	require.Contains(t, texts[len(texts)-1], "Logged in")
}

func TestNewPhoneDuringCodeRestartsChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sessions.BeginLogin("u1")
	f.bot.HandleText(ctx, "u1", "en", "13812345678")

	f.passport.challenge = "challenge-2"
	f.bot.HandleText(ctx, "u1", "en", "13900000000")
	require.Equal(t, session.StateAwaitingLoginCode, f.sessions.State("u1"))

	f.bot.HandleText(ctx, "u1", "en", "654321")
	require.Equal(t, "challenge-2", f.passport.lastChallenge)
	require.Equal(t, "13900000000", f.passport.lastPhone)
}

func TestLoginFailureReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.passport.loginErr = errors.New("wrong code")
	f.sessions.BeginLogin("u1")
	f.bot.HandleText(ctx, "u1", "en", "13812345678")
	f.bot.HandleText(ctx, "u1", "en", "111111")

	require.Equal(t, session.StateIdle, f.sessions.State("u1"))
	texts := f.channel.texts("u1")
	require.Contains(t, texts[len(texts)-1], "Login failed")
}

func TestDrawDeliversExactlyOneTerminalReply(t *testing.T) {
	f := newFixture(t)
	signed := "https://cdn.example.com/a.png?Expires=1700000000&Signature=abc"
	f.runner.items = []domain.ResultItem{{DownloadURL: signed}}

	f.bot.HandleText(context.Background(), "u1", "en", "draw a red fox -16:9")
	f.bot.Wait()

	spec := f.runner.lastSpec()
	require.Equal(t, domain.TaskTextToImage, spec.Type)
	require.Equal(t, "a red fox", spec.Prompt)
	require.Equal(t, domain.ResolutionWide, spec.Resolution)

	// The signed query string must survive storage and delivery untouched.
	stored := f.vault.stored["1700000000"]
	require.NotNil(t, stored)
	require.Equal(t, []string{signed}, stored.URLs)

	urls := f.channel.ofKind("u1", "url")
	require.Len(t, urls, 1)
	require.Equal(t, signed, urls[0].text)

	texts := f.channel.texts("u1")
	require.Len(t, texts, 2) // accepted + terminal
	require.Contains(t, texts[1], "1700000000")
	require.Contains(t, texts[1], "42 / 100")
}

func TestDrawCombinesMultipleResults(t *testing.T) {
	f := newFixture(t)
	f.runner.items = []domain.ResultItem{
		{DownloadURL: "https://cdn.example.com/a.png"},
		{DownloadURL: "https://cdn.example.com/b.png"},
		{DownloadURL: "https://cdn.example.com/c.png"},
		{DownloadURL: "https://cdn.example.com/d.png"},
	}

	f.bot.HandleText(context.Background(), "u1", "en", "draw four foxes")
	f.bot.Wait()

	images := f.channel.ofKind("u1", "image")
	require.Len(t, images, 1)
	require.Equal(t, "1700000000.jpg", images[0].text)
	require.Empty(t, f.channel.ofKind("u1", "url"))
}

func TestDrawSendsPartialBatchIndividually(t *testing.T) {
	f := newFixture(t)
	f.runner.items = []domain.ResultItem{
		{DownloadURL: "https://cdn.example.com/a.png"},
		{DownloadURL: "https://cdn.example.com/b.png"},
	}

	f.bot.HandleText(context.Background(), "u1", "en", "draw two foxes")
	f.bot.Wait()

	// Only a full batch of four is combined into a grid.
	require.Empty(t, f.channel.ofKind("u1", "image"))
	urls := f.channel.ofKind("u1", "url")
	require.Len(t, urls, 2)
	require.Equal(t, "https://cdn.example.com/a.png", urls[0].text)
	require.Equal(t, "https://cdn.example.com/b.png", urls[1].text)
}

func TestSecondCommandWhileJobInFlightGetsBusyReply(t *testing.T) {
	f := newFixture(t)
	f.runner.gate = make(chan struct{})
	f.runner.items = []domain.ResultItem{{DownloadURL: "https://cdn.example.com/a.png"}}

	f.bot.HandleText(context.Background(), "u1", "en", "draw a fox")
	f.bot.HandleText(context.Background(), "u1", "en", "draw another fox")

	texts := f.channel.texts("u1")
	require.Len(t, texts, 2)
	require.Contains(t, texts[1], "already have a task")

	close(f.runner.gate)
	f.bot.Wait()
	require.Equal(t, 1, f.runner.calls())
}

func TestJobUnauthorizedFlipsNeedsLogin(t *testing.T) {
	f := newFixture(t)
	f.runner.err = fmt.Errorf("imagine: %w", domain.ErrUnauthorized)

	f.bot.HandleText(context.Background(), "u1", "en", "draw a fox")
	f.bot.Wait()

	require.True(t, f.sessions.NeedsLogin())
	texts := f.channel.texts("u1")
	require.Len(t, texts, 2)
	require.Contains(t, texts[1], "log in")
}

func TestJobTimeoutReply(t *testing.T) {
	f := newFixture(t)
	f.runner.err = fmt.Errorf("engine: %w", domain.ErrPollTimeout)

	f.bot.HandleText(context.Background(), "u1", "en", "draw a fox")
	f.bot.Wait()

	texts := f.channel.texts("u1")
	require.Contains(t, texts[len(texts)-1], "timed out")
}

func TestSketchFlow(t *testing.T) {
	f := newFixture(t)
	f.runner.items = []domain.ResultItem{{DownloadURL: "https://cdn.example.com/s.png"}}
	ctx := context.Background()

	f.bot.HandleText(ctx, "u1", "en", "sketch a castle -anime")
	require.Equal(t, session.StateAwaitingSketchImage, f.sessions.State("u1"))

	canvases := f.channel.ofKind("u1", "image")
	require.Len(t, canvases, 1)
	require.Equal(t, "canvas.png", canvases[0].text)

	f.bot.HandleImage(ctx, "u1", "en", testPNG())
	f.bot.Wait()

	require.Equal(t, session.StateIdle, f.sessions.State("u1"))
	require.Len(t, f.imaging.uploaded, 1)

	spec := f.runner.lastSpec()
	require.Equal(t, domain.TaskSketchToImage, spec.Type)
	require.Equal(t, "a castle", spec.Prompt)
	require.Equal(t, domain.StyleAnime, spec.Style)
	require.Equal(t, "https://oss.example.com/base.png", spec.BaseImage)
}

func TestUploadFlow(t *testing.T) {
	f := newFixture(t)
	f.runner.items = []domain.ResultItem{{DownloadURL: "https://cdn.example.com/u.png"}}
	ctx := context.Background()

	f.bot.HandleText(ctx, "u1", "en", "upload a cyberpunk city")
	require.Equal(t, session.StateAwaitingUploadImage, f.sessions.State("u1"))

	f.bot.HandleImage(ctx, "u1", "en", testPNG())
	f.bot.Wait()

	spec := f.runner.lastSpec()
	require.Equal(t, domain.TaskTextToImage, spec.Type)
	require.NotEmpty(t, spec.BaseImage)
}

func TestImageWithoutPendingRequest(t *testing.T) {
	f := newFixture(t)
	f.bot.HandleImage(context.Background(), "u1", "en", testPNG())
	texts := f.channel.texts("u1")
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "send a command first")
	require.Equal(t, 0, f.runner.calls())
}

func TestImageAfterStateClearedDoesNotReuseRequest(t *testing.T) {
	f := newFixture(t)
	f.imaging.uploadErr = errors.New("upload refused")
	ctx := context.Background()

	f.bot.HandleText(ctx, "u1", "en", "upload a city")
	f.bot.HandleImage(ctx, "u1", "en", testPNG())

	// The failed round trip consumed the request; a second image finds none.
	f.bot.HandleImage(ctx, "u1", "en", testPNG())
	texts := f.channel.texts("u1")
	require.Contains(t, texts[len(texts)-1], "send a command first")
}

func TestEnlargeSubmitsUpscaleTask(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vault.Store(context.Background(), "1700000000", []string{
		"https://cdn.example.com/a.png",
		"https://cdn.example.com/b.png",
	}, nil))
	f.runner.items = []domain.ResultItem{{DownloadURL: "https://cdn.example.com/big.png"}}

	f.bot.HandleText(context.Background(), "u1", "en", "t 1700000000 2")
	f.bot.Wait()

	spec := f.runner.lastSpec()
	require.Equal(t, domain.TaskUpscale, spec.Type)
	require.Equal(t, domain.ResolutionUpscale, spec.Resolution)
	require.Equal(t, "https://cdn.example.com/b.png", spec.BaseImage)

	var enlargedID string
	for id := range f.vault.stored {
		if strings.HasPrefix(id, "1700000000_enlarged_") {
			enlargedID = id
		}
	}
	require.NotEmpty(t, enlargedID)
}

func TestEnlargeUnknownResult(t *testing.T) {
	f := newFixture(t)
	f.bot.HandleText(context.Background(), "u1", "en", "t 123 1")
	texts := f.channel.texts("u1")
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "expired")
}

func TestEnlargeIndexOutOfRange(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vault.Store(context.Background(), "42", []string{"https://cdn.example.com/a.png"}, nil))
	f.bot.HandleText(context.Background(), "u1", "en", "t 42 5")
	texts := f.channel.texts("u1")
	require.Contains(t, texts[0], "out of range")
	require.Equal(t, 0, f.runner.calls())
}

func TestCreditsCommand(t *testing.T) {
	f := newFixture(t)
	f.bot.HandleText(context.Background(), "u1", "en", "credits")
	texts := f.channel.texts("u1")
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "42 / 100")
}

func TestSignInOncePerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bot.MaybeSignIn(ctx)
	f.bot.MaybeSignIn(ctx)
	require.Equal(t, 1, f.imaging.signIns)
}

func TestRepliesLocalizedToChinese(t *testing.T) {
	f := newFixture(t)
	f.bot.HandleText(context.Background(), "u1", "zh-CN", "credits")
	texts := f.channel.texts("u1")
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "剩余额度")
}
