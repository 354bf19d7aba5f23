package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	logx "mailcadence/pkg/logx"
)

// GmailConfig holds the OAuth client used to refresh user tokens.
type GmailConfig struct {
	ClientID     string
	ClientSecret string

	// Endpoint and TokenURL override the Google defaults (tests).
	Endpoint string
	TokenURL string
}

// GmailTransport sends through users.messages.send as "me".
type GmailTransport struct {
	oauth    oauth2.Config
	endpoint string
	log      logx.Logger
}

func NewGmailTransport(cfg GmailConfig, log logx.Logger) *GmailTransport {
	if log.IsZero() {
		log = logx.Nop()
	}
	ep := google.Endpoint
	if cfg.TokenURL != "" {
		ep = oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
	return &GmailTransport{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     ep,
			Scopes:       []string{gmail.GmailSendScope},
		},
		endpoint: cfg.Endpoint,
		log:      log.With(logx.String("comp", "mail.gmail")),
	}
}

// tokenSource trusts the stored access token unless a refresh token is
// available, in which case every send refreshes first. Stored tokens are
// never written back, so their age is unknown.
func (g *GmailTransport) tokenSource(ctx context.Context, creds Credentials) oauth2.TokenSource {
	tok := &oauth2.Token{AccessToken: creds.Token, RefreshToken: creds.RefreshToken, TokenType: "Bearer"}
	if creds.RefreshToken != "" {
		tok.Expiry = time.Now().Add(-time.Minute)
	}
	return g.oauth.TokenSource(ctx, tok)
}

func (g *GmailTransport) Send(ctx context.Context, creds Credentials, msg Message) error {
	if creds.Token == "" && creds.RefreshToken == "" {
		return ErrTokenExpired
	}
	raw, skipped, err := BuildRaw(msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	for _, p := range skipped {
		g.log.Warn("attachment skipped", logx.String("path", p))
	}

	opts := []option.ClientOption{option.WithTokenSource(g.tokenSource(ctx, creds))}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("gmail client: %w", err)
	}

	_, err = srv.Users.Messages.Send("me", &gmail.Message{Raw: EncodeRaw(raw)}).Context(ctx).Do()
	if err != nil {
		return classifyGmailError(err, creds.RefreshToken != "")
	}
	return nil
}

func classifyGmailError(err error, hadRefresh bool) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return fmt.Errorf("%w (%s)", ErrTokenExpired, re.ErrorCode)
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) && ge.Code == http.StatusUnauthorized && !hadRefresh {
		return ErrTokenExpired
	}
	return fmt.Errorf("gmail send: %w", err)
}
