package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/beekhof/calendar-datasource/internal/calendar"
)

// Scope is the only scope the datasource asks for.
const Scope = gcal.CalendarReadonlyScope

// Config describes how a Session obtains its credential.
type Config struct {
	// ClientID and ClientSecret identify the OAuth client used for interactive consent.
	ClientID     string
	ClientSecret string

	// ServiceAccountKeyFile, when set, replaces interactive consent with a
	// service-account JWT grant.
	ServiceAccountKeyFile string

	// Endpoint defaults to google.Endpoint.
	Endpoint oauth2.Endpoint

	// Consenter runs the interactive grant. Defaults to a LoopbackConsenter.
	Consenter Consenter

	// HTTPClient, if set, carries token requests and API calls. Tests use it
	// together with APIOptions to point everything at fake servers.
	HTTPClient *http.Client
	APIOptions []option.ClientOption

	Logger log.Logger
}

// Session holds the process-wide credential and the Calendar client built on it.
// It is created once and shared by reference.
type Session struct {
	cfg    Config
	logger log.Logger

	// init makes concurrent first callers share one initialization, so
	// consent is requested at most once.
	init singleflight.Group

	mu          sync.Mutex
	loaded      bool
	oauthConfig *oauth2.Config
	token       *oauth2.Token
	interactive bool
	client      *calendar.Client
}

// NewSession returns a Session that has not authenticated yet.
func NewSession(cfg Config) *Session {
	if cfg.Endpoint == (oauth2.Endpoint{}) {
		cfg.Endpoint = google.Endpoint
	}
	if cfg.Consenter == nil {
		cfg.Consenter = &LoopbackConsenter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Session{cfg: cfg, logger: log.With(logger, "component", "auth")}
}

// EnsureReady authenticates on first use and is a no-op afterwards while
// the credential is valid. An expired interactive credential yields an
// AuthenticationError and resets the session, so the next call goes
// through consent again.
func (s *Session) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	if s.client != nil {
		if !s.interactive || s.token.Valid() {
			s.mu.Unlock()
			return nil
		}
		s.client = nil
		s.token = nil
		s.mu.Unlock()
		return &AuthenticationError{Payload: "token expired"}
	}
	s.mu.Unlock()

	// The shared initialization is detached from any single caller; each
	// caller stops waiting when its own ctx is done.
	initCtx := context.WithoutCancel(ctx)
	ch := s.init.DoChan("init", func() (any, error) {
		return nil, s.initialize(initCtx)
	})
	select {
	case res := <-ch:
		if res.Shared {
			level.Debug(s.logger).Log("msg", "joined in-flight initialization")
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lister returns the authenticated Calendar client. It fails until EnsureReady has succeeded.
func (s *Session) Lister() (calendar.EventLister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, &AuthenticationError{Payload: "session is not initialized"}
	}
	return s.client, nil
}

func (s *Session) initialize(ctx context.Context) error {
	s.mu.Lock()
	ready := s.client != nil
	s.mu.Unlock()
	if ready {
		// A previous initialization finished between our check and joining the group.
		return nil
	}

	if err := s.load(); err != nil {
		return err
	}

	if s.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.cfg.HTTPClient)
	}

	var (
		source      oauth2.TokenSource
		token       *oauth2.Token
		interactive bool
		err         error
	)
	if s.cfg.ServiceAccountKeyFile != "" {
		source, token, err = s.serviceAccountToken(ctx)
	} else {
		interactive = true
		token, err = s.cfg.Consenter.Consent(ctx, s.oauthConfig)
		if err == nil {
			// No refresh: the credential lives as long as this token does.
			source = oauth2.StaticTokenSource(token)
		}
	}
	if err != nil {
		level.Error(s.logger).Log("msg", "authentication failed", "err", err)
		return err
	}

	client, err := calendar.NewClient(ctx, oauth2.NewClient(ctx, source), s.cfg.APIOptions...)
	if err != nil {
		return fmt.Errorf("failed to initialize calendar client: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.interactive = interactive
	s.client = client
	s.mu.Unlock()

	level.Info(s.logger).Log("msg", "session ready", "interactive", interactive, "expiry", token.Expiry)
	return nil
}

// load builds the OAuth client configuration once.
func (s *Session) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	if s.cfg.ServiceAccountKeyFile == "" && s.cfg.ClientID == "" {
		return &AuthenticationError{Payload: "no client id or service account key file configured"}
	}

	s.oauthConfig = &oauth2.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
		Endpoint:     s.cfg.Endpoint,
		Scopes:       []string{Scope},
	}
	s.loaded = true
	return nil
}

func (s *Session) serviceAccountToken(ctx context.Context) (oauth2.TokenSource, *oauth2.Token, error) {
	data, err := os.ReadFile(s.cfg.ServiceAccountKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read service account key file: %w", err)
	}

	conf, err := google.JWTConfigFromJSON(data, Scope)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse service account key file: %w", err)
	}
	if s.cfg.Endpoint.TokenURL != google.Endpoint.TokenURL {
		conf.TokenURL = s.cfg.Endpoint.TokenURL
	}

	source := conf.TokenSource(ctx)
	token, err := source.Token()
	if err != nil {
		return nil, nil, &AuthenticationError{Payload: err.Error(), Err: err}
	}
	return source, token, nil
}
