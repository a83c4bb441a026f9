package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/domain"
	"github.com/vadiminshakov/coinverse/internal/services/chat"
	"github.com/vadiminshakov/coinverse/internal/services/identity"
)

// Credentials are what the login form collects.
type Credentials struct {
	Register bool
	Username string
	Email    string
	Password string
}

// PromptFunc asks the user for credentials.
type PromptFunc func() (Credentials, error)

// App is one chat session in a terminal: a room view, a composer and the
// signed-in user.
type App struct {
	client *Client
	room   string
	prompt PromptFunc
	out    io.Writer
	logger *zap.Logger

	outMu sync.Mutex
	state *identity.State
	src   *identity.SessionSource
}

// NewApp creates an app for room. prompt is called until sign-in succeeds.
func NewApp(client *Client, room string, prompt PromptFunc, out io.Writer, logger *zap.Logger) (*App, error) {
	if err := domain.ValidateCoinID(room); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	src := identity.NewSessionSource(client.Resolve, "")
	return &App{
		client: client,
		room:   room,
		prompt: prompt,
		out:    out,
		logger: logger.With(zap.String("component", "console")),
		state:  identity.NewState(src),
		src:    src,
	}, nil
}

func (a *App) println(s string) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintln(a.out, s)
}

// SignIn prompts until a session is established or the prompt fails.
func (a *App) SignIn(ctx context.Context) error {
	for {
		creds, err := a.prompt()
		if err != nil {
			return err
		}

		var sess domain.Session
		if creds.Register {
			sess, err = a.client.Register(ctx, creds.Username, creds.Email, creds.Password)
		} else {
			sess, err = a.client.SignIn(ctx, creds.Email, creds.Password)
		}
		if err == nil {
			a.src.SetToken(ctx, sess.Token)
			return nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return err
		}
		a.println(RenderError(apiErr.Message))
	}
}

// User returns the signed-in user, or nil while signed out.
func (a *App) User() *domain.User {
	return a.state.Snapshot().User
}

// Run watches the room and sends every line read from in until ctx is done,
// in ends or the user types /quit.
func (a *App) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.state.Close()

	resolved := make(chan struct{})
	var resolvedOnce sync.Once
	unsubscribe := a.state.Subscribe(func(s identity.Snapshot) {
		if !s.Loading {
			resolvedOnce.Do(func() { close(resolved) })
		}
		switch {
		case s.Loading:
		case s.User == nil:
			a.println(mutedStyle.Render("signed out"))
		default:
			a.println(mutedStyle.Render("signed in as " + s.User.DisplayName))
		}
	})
	defer unsubscribe()

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- a.client.Watch(ctx, a.room, func(msgs []domain.ChatMessage) {
			self := ""
			if u := a.User(); u != nil {
				self = u.ID
			}
			a.println(RenderRoom(a.room, msgs, self))
		})
	}()

	composer := chat.NewComposer(func(ctx context.Context, text string) error {
		_, err := a.client.Send(ctx, a.room, text, a.src.Token())
		return err
	}, nil)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchErr:
			return err
		case err := <-readErr:
			return err
		case line := <-lines:
			switch strings.TrimSpace(line) {
			case "/quit":
				return nil
			case "/logout":
				if err := a.client.SignOut(ctx, a.src.Token()); err != nil {
					a.logger.Warn("sign out failed", zap.Error(err))
				}
				a.src.SetToken(ctx, "")
				continue
			}

			// hold the line until the session is known
			if a.state.Snapshot().Loading {
				select {
				case <-resolved:
				case <-ctx.Done():
					return nil
				}
			}
			if a.User() == nil {
				a.println(RenderError("Please sign in again."))
				continue
			}

			composer.SetDraft(line)
			outcome, err := composer.Submit(ctx)
			if outcome == chat.OutcomeRolledBack {
				msg := "Message could not be sent. Please try again."
				var apiErr *APIError
				if errors.As(err, &apiErr) {
					msg = apiErr.Message
				}
				a.println(RenderError(msg))
				a.println(mutedStyle.Render("unsent: " + composer.State().Draft))
			}
		}
	}
}

// FormPrompt asks for credentials with an interactive form.
func FormPrompt() (Credentials, error) {
	var c Credentials
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[bool]().
				Title("Coinverse chat").
				Options(
					huh.NewOption("Sign in", false),
					huh.NewOption("Create an account", true),
				).
				Value(&c.Register),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Description("3 to 20 characters").
				Value(&c.Username),
		).WithHideFunc(func() bool { return !c.Register }),
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Value(&c.Email),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&c.Password),
		),
	).Run()
	return c, err
}
