package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
)

// Consenter runs an interactive OAuth2 grant and returns the resulting token.
type Consenter interface {
	Consent(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error)
}

// ConsenterFunc adapts a function to Consenter.
type ConsenterFunc func(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error)

func (f ConsenterFunc) Consent(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	return f(ctx, conf)
}

// LoopbackConsenter asks the user to open the consent URL and receives the
// authorization code on a local HTTP server.
type LoopbackConsenter struct {
	// Addr is tried first; a random port is used if it is taken.
	// Defaults to 127.0.0.1:8080.
	Addr string

	// Timeout bounds the wait for the browser. Defaults to 5 minutes.
	Timeout time.Duration

	// OnAuthURL is called with the consent URL. Defaults to printing it on stderr.
	OnAuthURL func(authURL string)
}

type callbackResult struct {
	code string
	err  error
}

// Consent implements Consenter.
func (l *LoopbackConsenter) Consent(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	state, err := randomState()
	if err != nil {
		return nil, err
	}

	redirectURL, results, stop, err := l.startLocalServer(state)
	if err != nil {
		return nil, err
	}
	defer stop()

	// Work on a copy so the shared config keeps no per-flow redirect URL.
	flowConf := *conf
	flowConf.RedirectURL = redirectURL
	authURL := flowConf.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))

	onAuthURL := l.OnAuthURL
	if onAuthURL == nil {
		onAuthURL = func(u string) {
			fmt.Fprintf(os.Stderr, "Please visit the following URL to authorize read-only calendar access:\n%s\n", u)
		}
	}
	onAuthURL(authURL)

	timeout := l.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, &AuthenticationError{Payload: "authorization timeout: no response received within " + timeout.String()}
	}
	if res.err != nil {
		return nil, res.err
	}

	token, err := flowConf.Exchange(ctx, res.code)
	if err != nil {
		payload := err.Error()
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.ErrorCode != "" {
			payload = rerr.ErrorCode
		}
		return nil, &AuthenticationError{Payload: payload, Err: err}
	}
	return token, nil
}

// startLocalServer listens for the OAuth redirect and reports the first
// callback on the returned channel. stop shuts the server down.
func (l *LoopbackConsenter) startLocalServer(state string) (string, <-chan callbackResult, func(), error) {
	addr := l.Addr
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		// Fall back to a random port if the preferred one is in use
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to start local server: %w", err)
		}
	}

	port := listener.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	results := make(chan callbackResult, 1)
	report := func(r callbackResult) {
		select {
		case results <- r:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("error") != "":
			payload := q.Get("error")
			if desc := q.Get("error_description"); desc != "" {
				payload += ": " + desc
			}
			fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>Error: %s</p></body></html>", html.EscapeString(payload))
			report(callbackResult{err: &AuthenticationError{Payload: payload}})
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			report(callbackResult{err: &AuthenticationError{Payload: "state mismatch"}})
		case q.Get("code") == "":
			fmt.Fprintf(w, "<html><body><h1>No authorization code received</h1></body></html>")
			report(callbackResult{err: &AuthenticationError{Payload: "no authorization code received"}})
		default:
			fmt.Fprintf(w, "<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>")
			report(callbackResult{code: q.Get("code")})
		}
	})

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  10 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			report(callbackResult{err: fmt.Errorf("server error: %w", err)})
		}
	}()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
	return redirectURL, results, stop, nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
