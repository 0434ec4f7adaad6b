// Package bot turns incoming chat events into generation jobs and replies.
// Text events drive the command surface and the login flow; image events
// resolve pending sketch/upload requests. Jobs run in their own goroutine and
// every command ends in exactly one terminal reply.
package bot

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync"
	"time"

	"drawbot/internal/compose"
	"drawbot/internal/domain"
	"drawbot/internal/infra"
	"drawbot/internal/results"
	"drawbot/internal/session"
	"drawbot/internal/settings"
	"drawbot/internal/storage"
)

// Channel delivers replies to the chat platform. Fire-and-forget: delivery
// failures are logged, never retried.
type Channel interface {
	SendText(ctx context.Context, userID, text string) error
	SendImage(ctx context.Context, userID, filename string, data []byte) error
	SendImageURL(ctx context.Context, userID, url string) error
}

// TaskRunner executes one generation job end to end.
type TaskRunner interface {
	Run(ctx context.Context, spec domain.TaskSpec) ([]domain.ResultItem, error)
}

// Credentials is the slice of the credential store the bot drives.
type Credentials interface {
	Get() domain.Credential
	Set(ctx context.Context, cred domain.Credential) error
	Refresh(ctx context.Context) (domain.Credential, error)
	RefreshIfStale(ctx context.Context) domain.Credential
}

// SMSGateway is the identity provider slice used by the login flow.
type SMSGateway interface {
	SendSMS(ctx context.Context, phone string) (string, error)
	LoginWithSMS(ctx context.Context, phone, code, challenge string) (string, error)
}

// Imaging covers the generation-service calls outside the job engine.
type Imaging interface {
	CreditBalance(ctx context.Context, cred domain.Credential) (total, available int, err error)
	DailySignIn(ctx context.Context, cred domain.Credential) error
	UploadImage(ctx context.Context, cred domain.Credential, filename string, data []byte, taskType domain.TaskType) (string, error)
}

// ResultVault stores and recalls generation outcomes.
type ResultVault interface {
	NewID() string
	Store(ctx context.Context, id string, urls []string, metadata map[string]string) error
	Fetch(ctx context.Context, id string) (*results.StoredResult, error)
}

type SettingsDoc interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Options wires the bot. Channel, Sessions, Runner, Creds, Passport, Imagine,
// Results and Settings are required; the rest have defaults.
type Options struct {
	Sessions   *session.Manager
	Runner     TaskRunner
	Creds      Credentials
	Passport   SMSGateway
	Imagine    Imaging
	Results    ResultVault
	Settings   SettingsDoc
	Files      *storage.FileStore
	Channel    Channel
	Logger     infra.Logger
	HTTPClient *http.Client
	Now        func() time.Time
}

type Bot struct {
	sessions *session.Manager
	runner   TaskRunner
	creds    Credentials
	passport SMSGateway
	imagine  Imaging
	results  ResultVault
	settings SettingsDoc
	files    *storage.FileStore
	channel  Channel
	logger   infra.Logger
	http     *http.Client
	now      func() time.Time
	jobs     sync.WaitGroup
}

func New(opts Options) (*Bot, error) {
	switch {
	case opts.Sessions == nil:
		return nil, errors.New("bot: sessions are required")
	case opts.Runner == nil:
		return nil, errors.New("bot: runner is required")
	case opts.Creds == nil:
		return nil, errors.New("bot: credentials are required")
	case opts.Passport == nil:
		return nil, errors.New("bot: passport gateway is required")
	case opts.Imagine == nil:
		return nil, errors.New("bot: imaging client is required")
	case opts.Results == nil:
		return nil, errors.New("bot: result vault is required")
	case opts.Settings == nil:
		return nil, errors.New("bot: settings are required")
	case opts.Channel == nil:
		return nil, errors.New("bot: channel is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Bot{
		sessions: opts.Sessions,
		runner:   opts.Runner,
		creds:    opts.Creds,
		passport: opts.Passport,
		imagine:  opts.Imagine,
		results:  opts.Results,
		settings: opts.Settings,
		files:    opts.Files,
		channel:  opts.Channel,
		logger:   opts.Logger,
		http:     httpClient,
		now:      now,
	}, nil
}

// Wait blocks until every in-flight job goroutine has delivered its reply.
func (b *Bot) Wait() {
	b.jobs.Wait()
}

// HandleText processes one text event for userID.
func (b *Bot) HandleText(ctx context.Context, userID, locale, text string) {
	switch b.sessions.State(userID) {
	case session.StateAwaitingLoginPhone:
		b.handlePhone(ctx, userID, locale, text)
		return
	case session.StateAwaitingLoginCode:
		b.handleCode(ctx, userID, locale, text)
		return
	}

	cmd := parseCommand(text)
	if cmd.Kind == cmdNone {
		return
	}

	// One-shot reroute into login when the session is known dead.
	if b.sessions.NeedsLogin() || b.creds.Get().Empty() {
		b.sessions.BeginLogin(userID)
		b.reply(ctx, userID, message(locale, msgLoginNeeded)+"\n"+message(locale, msgPromptPhone))
		return
	}

	switch cmd.Kind {
	case cmdHelp:
		b.reply(ctx, userID, message(locale, msgHelp))
	case cmdCredits:
		b.handleCredits(ctx, userID, locale)
	case cmdDraw:
		spec := domain.TaskSpec{Type: domain.TaskTextToImage, Prompt: cmd.Prompt, Resolution: cmd.Resolution}
		b.launchJob(ctx, userID, locale, spec, b.results.NewID(), false)
	case cmdSketch:
		b.beginSketch(ctx, userID, locale, cmd)
	case cmdUpload:
		b.sessions.SetPendingRequest(userID, session.PendingRequest{
			Type:       domain.TaskTextToImage,
			Prompt:     cmd.Prompt,
			Resolution: cmd.Resolution,
		})
		b.reply(ctx, userID, message(locale, msgUploadPrompt))
	case cmdEnlarge:
		b.handleEnlarge(ctx, userID, locale, cmd)
	}
}

// HandleImage processes one image event. Any pending creative request for the
// user is consumed whether or not processing succeeds.
func (b *Bot) HandleImage(ctx context.Context, userID, locale string, data []byte) {
	req, ok := b.sessions.TakePendingRequest(userID)
	if !ok {
		b.reply(ctx, userID, message(locale, msgNothingPending))
		return
	}

	cred := b.creds.RefreshIfStale(ctx)
	if cred.Empty() {
		b.sessions.SetNeedsLogin(true)
		b.reply(ctx, userID, message(locale, msgLoginNeeded))
		return
	}

	payload := data
	if req.Type == domain.TaskSketchToImage {
		mask, err := compose.PrepareSketch(data)
		if err != nil {
			b.logger.Warn().Err(err).Str("user_id", userID).Msg("bot: sketch preprocessing failed")
			b.reply(ctx, userID, message(locale, msgImageBadInput))
			return
		}
		payload = mask
	}

	name := fmt.Sprintf("%s_%d.png", userID, b.now().Unix())
	baseURL, err := b.imagine.UploadImage(ctx, cred, name, payload, req.Type)
	if err != nil {
		b.logger.Warn().Err(err).Str("user_id", userID).Msg("bot: base image upload failed")
		b.reply(ctx, userID, b.errorReply(locale, err))
		return
	}

	spec := domain.TaskSpec{
		Type:       req.Type,
		Prompt:     req.Prompt,
		Resolution: req.Resolution,
		BaseImage:  baseURL,
		Style:      req.Style,
	}
	b.launchJob(ctx, userID, locale, spec, b.results.NewID(), false)
}

func (b *Bot) handlePhone(ctx context.Context, userID, locale, text string) {
	if !session.ValidPhone(text) {
		b.reply(ctx, userID, message(locale, msgBadPhone))
		return
	}
	challenge, err := b.passport.SendSMS(ctx, text)
	if err != nil {
		b.logger.Warn().Err(err).Str("user_id", userID).Msg("bot: sms dispatch failed")
		b.sessions.Reset(userID)
		b.reply(ctx, userID, message(locale, msgSMSFailed))
		return
	}
	b.sessions.SetChallenge(userID, text, challenge)
	b.reply(ctx, userID, message(locale, msgPromptCode))
}

func (b *Bot) handleCode(ctx context.Context, userID, locale, text string) {
	// A fresh phone number restarts the challenge instead of failing the code.
	if session.ValidPhone(text) {
		b.handlePhone(ctx, userID, locale, text)
		return
	}
	if !session.ValidCode(text) {
		b.reply(ctx, userID, message(locale, msgBadCode))
		return
	}

	login, ok := b.sessions.TakeLogin(userID)
	if !ok {
		b.sessions.Reset(userID)
		b.reply(ctx, userID, message(locale, msgLoginFailed))
		return
	}

	seed, err := b.passport.LoginWithSMS(ctx, login.Phone, text, login.Challenge)
	if err != nil {
		b.logger.Warn().Err(err).Str("user_id", userID).Msg("bot: sms login failed")
		b.sessions.Reset(userID)
		b.reply(ctx, userID, message(locale, msgLoginFailed))
		return
	}

	if err := b.creds.Set(ctx, domain.Credential{SessionCookie: seed}); err != nil {
		b.logger.Error().Err(err).Msg("bot: persisting fresh credential failed")
		b.sessions.Reset(userID)
		b.reply(ctx, userID, message(locale, msgLoginFailed))
		return
	}
	// Widen the cookie seed into a full credential. The seed alone still
	// works, so a refresh failure is not a login failure.
	if _, err := b.creds.Refresh(ctx); err != nil {
		b.logger.Warn().Err(err).Msg("bot: post-login refresh failed")
	}

	b.sessions.Reset(userID)
	b.sessions.SetNeedsLogin(false)
	b.MaybeSignIn(ctx)
	b.reply(ctx, userID, message(locale, msgLoginOK))
}

func (b *Bot) handleCredits(ctx context.Context, userID, locale string) {
	cred := b.creds.RefreshIfStale(ctx)
	total, available, err := b.imagine.CreditBalance(ctx, cred)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			b.sessions.SetNeedsLogin(true)
			b.reply(ctx, userID, message(locale, msgLoginNeeded))
			return
		}
		b.logger.Warn().Err(err).Msg("bot: credit balance query failed")
		b.reply(ctx, userID, message(locale, msgCreditsFailed))
		return
	}
	b.reply(ctx, userID, message(locale, msgCredits, available, total))
}

func (b *Bot) beginSketch(ctx context.Context, userID, locale string, cmd command) {
	b.sessions.SetPendingRequest(userID, session.PendingRequest{
		Type:       domain.TaskSketchToImage,
		Prompt:     cmd.Prompt,
		Resolution: cmd.Resolution,
		Style:      cmd.Style,
	})
	canvas, err := compose.BlankCanvas(cmd.Resolution.Width, cmd.Resolution.Height)
	if err == nil {
		if err := b.channel.SendImage(ctx, userID, "canvas.png", canvas); err != nil {
			b.logger.Warn().Err(err).Str("user_id", userID).Msg("bot: canvas delivery failed")
		}
	}
	b.reply(ctx, userID, message(locale, msgSketchPrompt))
}

func (b *Bot) handleEnlarge(ctx context.Context, userID, locale string, cmd command) {
	stored, err := b.results.Fetch(ctx, cmd.ResultID)
	if err != nil {
		b.reply(ctx, userID, message(locale, msgResultMissing))
		return
	}
	if cmd.Index > len(stored.URLs) {
		b.reply(ctx, userID, message(locale, msgBadIndex))
		return
	}
	spec := domain.TaskSpec{
		Type:       domain.TaskUpscale,
		Resolution: domain.ResolutionUpscale,
		BaseImage:  stored.URLs[cmd.Index-1],
	}
	enlargedID := fmt.Sprintf("%s_enlarged_%d", cmd.ResultID, b.now().Unix())
	b.launchJob(ctx, userID, locale, spec, enlargedID, true)
}

// launchJob enforces single-flight per user, acknowledges the command and
// runs the job in its own goroutine. The goroutine owns the one terminal
// reply for this command.
func (b *Bot) launchJob(ctx context.Context, userID, locale string, spec domain.TaskSpec, resultID string, enlarge bool) {
	if !b.sessions.BeginJob(userID) {
		b.reply(ctx, userID, message(locale, msgBusyUser))
		return
	}
	b.reply(ctx, userID, message(locale, msgAccepted))

	// The webhook request context dies when the handler returns; the job
	// outlives it.
	jobCtx := context.WithoutCancel(ctx)
	b.jobs.Add(1)
	go func() {
		defer b.jobs.Done()
		defer b.sessions.EndJob(userID)
		b.runJob(jobCtx, userID, locale, spec, resultID, enlarge)
	}()
}

func (b *Bot) runJob(ctx context.Context, userID, locale string, spec domain.TaskSpec, resultID string, enlarge bool) {
	items, err := b.runner.Run(ctx, spec)
	if err != nil {
		b.logger.Warn().Err(err).Str("user_id", userID).Str("task_type", string(spec.Type)).Msg("bot: job failed")
		b.reply(ctx, userID, b.errorReply(locale, err))
		return
	}

	// Download URLs keep their signed query string; stripping it can make
	// the object unfetchable. The clean variant is derived where needed.
	urls := make([]string, 0, len(items))
	for _, item := range items {
		if item.DownloadURL != "" {
			urls = append(urls, item.DownloadURL)
		}
	}
	if len(urls) == 0 {
		b.reply(ctx, userID, message(locale, msgGenericFailed))
		return
	}

	if err := b.results.Store(ctx, resultID, urls, map[string]string{
		"prompt":    spec.Prompt,
		"task_type": string(spec.Type),
	}); err != nil {
		b.logger.Error().Err(err).Str("result_id", resultID).Msg("bot: storing result failed")
	}

	b.deliverImages(ctx, userID, resultID, urls)

	var done string
	if enlarge {
		done = message(locale, msgEnlargeDone, resultID)
	} else {
		done = message(locale, msgDone, resultID, resultID)
	}
	if line, ok := b.creditsLine(ctx, locale); ok {
		done += "\n" + line
	}
	b.reply(ctx, userID, done)
}

// deliverImages sends one combined grid for a full batch of four, falling
// back to individual URL sends for smaller batches or when anything in the
// combine pipeline fails.
func (b *Bot) deliverImages(ctx context.Context, userID, resultID string, urls []string) {
	if len(urls) >= 4 {
		data, err := b.combineDownloads(ctx, resultID, urls)
		if err == nil {
			err = b.channel.SendImage(ctx, userID, resultID+".jpg", data)
			if err == nil {
				return
			}
		}
		b.logger.Warn().Err(err).Str("result_id", resultID).Msg("bot: combined delivery failed, sending individually")
	}
	for _, u := range urls {
		if err := b.channel.SendImageURL(ctx, userID, u); err != nil {
			b.logger.Warn().Err(err).Str("user_id", userID).Msg("bot: image url delivery failed")
		}
	}
}

func (b *Bot) combineDownloads(ctx context.Context, resultID string, urls []string) ([]byte, error) {
	images := make([]image.Image, 0, len(urls))
	for _, u := range urls {
		raw, err := b.fetch(ctx, u)
		if err != nil {
			return nil, err
		}
		img, err := compose.Decode(raw)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	data, err := compose.Combine(images)
	if err != nil {
		return nil, err
	}
	if b.files != nil {
		if _, err := b.files.Write(ctx, "composed/"+resultID+".jpg", data); err != nil {
			b.logger.Warn().Err(err).Str("result_id", resultID).Msg("bot: caching composed image failed")
		}
	}
	return data, nil
}

func (b *Bot) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bot: build download request: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bot: download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bot: download %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}

func (b *Bot) creditsLine(ctx context.Context, locale string) (string, bool) {
	total, available, err := b.imagine.CreditBalance(ctx, b.creds.Get())
	if err != nil {
		return "", false
	}
	return message(locale, msgCredits, available, total), true
}

// MaybeSignIn performs the daily sign-in once per calendar day. Also invoked
// at startup when a credential already exists.
func (b *Bot) MaybeSignIn(ctx context.Context) {
	today := b.now().Format("2006-01-02")
	last, err := b.settings.Get(ctx, settings.KeyLastSignInDate)
	if err != nil {
		b.logger.Warn().Err(err).Msg("bot: reading last sign-in date failed")
		return
	}
	if last == today {
		return
	}
	cred := b.creds.Get()
	if cred.Empty() {
		return
	}
	if err := b.imagine.DailySignIn(ctx, cred); err != nil {
		b.logger.Warn().Err(err).Msg("bot: daily sign-in failed")
		return
	}
	if err := b.settings.Set(ctx, settings.KeyLastSignInDate, today); err != nil {
		b.logger.Warn().Err(err).Msg("bot: recording sign-in date failed")
	}
	b.logger.Info().Str("date", today).Msg("bot: daily sign-in complete")
}

func (b *Bot) errorReply(locale string, err error) string {
	switch {
	case errors.Is(err, domain.ErrLoginRequired), errors.Is(err, domain.ErrUnauthorized):
		b.sessions.SetNeedsLogin(true)
		return message(locale, msgLoginNeeded)
	case errors.Is(err, domain.ErrServiceBusy):
		return message(locale, msgServiceBusy)
	case errors.Is(err, domain.ErrServiceRejected), errors.Is(err, domain.ErrJobRejected):
		return message(locale, msgRejected)
	case errors.Is(err, domain.ErrPollTimeout):
		return message(locale, msgTimeout)
	default:
		return message(locale, msgGenericFailed)
	}
}

func (b *Bot) reply(ctx context.Context, userID, text string) {
	if err := b.channel.SendText(ctx, userID, text); err != nil {
		b.logger.Warn().Err(err).Str("user_id", userID).Msg("bot: text delivery failed")
	}
}
