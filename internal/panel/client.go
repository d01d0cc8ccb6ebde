// Package panel is a client for the Paradox IP150 module's embedded web
// interface. The module exposes no API, only HTML pages: login is a salted
// handshake against script fragments in the login page, live status is a
// pair of script arrays in statuslive.html, and sessions expire unless a
// heartbeat page is requested periodically.
package panel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// The login page calls loginaff("<salt>", ...); the 16-character
	// session salt starts 10 bytes after the marker.
	loginSaltMarker = "loginaff"
	saltOffset      = 10
	saltLength      = 16

	// A failed login serves a page that bounces the browser back to the
	// login form.
	wrongCredsMarker = "top.location.href='login_page.html';"

	defaultSettleDelay    = 3 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// Action is an area control command accepted by the panel.
type Action string

const (
	Disarm   Action = "Disarm"
	Arm      Action = "Arm"
	ArmSleep Action = "Arm_sleep"
	ArmStay  Action = "Arm_stay"
)

// actionCodes maps commands to the single-letter codes the status endpoint
// takes in its `value` parameter.
var actionCodes = map[Action]string{
	Disarm:   "d",
	Arm:      "r",
	ArmSleep: "p",
	ArmStay:  "s",
}

// ValidActions returns the four recognized area commands.
func ValidActions() []Action {
	return []Action{Disarm, Arm, ArmSleep, ArmStay}
}

// Client owns one login session against a panel. It manages the keepalive
// heartbeat and at most one update poller.
//
// Login, Logout, StartPolling and StopPolling serialize against each
// other. FetchStatus and SetAreaAction may be called concurrently from the
// poller goroutine and the caller's goroutine; they block for at most one
// HTTP round trip, bounded by the request timeout.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
	settle  time.Duration

	mu sync.Mutex // serializes the lifecycle entry points

	stateMu   sync.RWMutex
	authed    bool
	keepalive *keepaliveTask
	poller    *updatePoller
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Used by tests and by
// callers that need custom transport settings.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithSettleDelay overrides the pause after a successful credential
// submission. The panel needs time to finish server-side session setup
// before it will serve any other page.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Client) { c.settle = d }
}

// WithRequestTimeout bounds each HTTP round trip.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New builds an unauthenticated client for the panel at baseURL. TLS
// certificate validation is intentionally disabled: panels ship
// self-signed certificates.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		log:    zerolog.Nop(),
		settle: defaultSettleDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsAuthenticated reports whether a login session is currently
// established.
func (c *Client) IsAuthenticated() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.authed
}

func (c *Client) setAuthenticated(v bool) {
	c.stateMu.Lock()
	c.authed = v
	c.stateMu.Unlock()
}

// Login performs the salted credential handshake and, on success, starts
// the keepalive heartbeat at keepaliveInterval (zero disables it). The
// user is the panel user code, password the panel password.
func (c *Client) Login(ctx context.Context, user, password string, keepaliveInterval time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsAuthenticated() {
		return &PanelError{Sentinel: ErrAlreadyAuthenticated, Operation: "login"}
	}

	_, body, err := c.get(ctx, "login", "/login_page.html", nil)
	if err != nil {
		return err
	}
	salt, err := extractSalt(body)
	if err != nil {
		return err
	}

	creds, err := encodeCredentials(user, password, salt)
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("p", creds.p)
	params.Set("u", creds.u)
	_, body, err = c.get(ctx, "login", "/default.html", params)
	if err != nil {
		return err
	}
	if strings.Contains(body, wrongCredsMarker) {
		return &PanelError{Sentinel: ErrAuthFailed, Operation: "login"}
	}

	// Give the panel time to finish server-side session setup; pages
	// requested too early come back as the login page.
	select {
	case <-time.After(c.settle):
	case <-ctx.Done():
		return &PanelError{Sentinel: ErrTimeout, Operation: "login", Err: ctx.Err()}
	}

	c.stateMu.Lock()
	if keepaliveInterval > 0 {
		c.keepalive = newKeepaliveTask(c, keepaliveInterval)
	}
	c.authed = true
	c.stateMu.Unlock()

	c.log.Info().Str("url", c.baseURL).Msg("logged in to panel")
	return nil
}

// Logout stops the keepalive heartbeat, cancels any running update poller
// and requests the logout page. The heartbeat is fully joined before the
// logout request goes out, so no heartbeat can fire into a dead session.
//
// When the logout request itself fails, the session flag stays set while
// the heartbeat is already stopped; retrying Logout is the recovery path.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsAuthenticated() {
		return &PanelError{Sentinel: ErrNotAuthenticated, Operation: "logout"}
	}

	c.stateMu.Lock()
	keepalive := c.keepalive
	poller := c.poller
	c.keepalive = nil
	c.poller = nil
	c.stateMu.Unlock()

	if keepalive != nil {
		keepalive.cancel()
	}
	if poller != nil {
		poller.cancel()
	}

	status, _, err := c.get(ctx, "logout", "/logout.html", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &PanelError{Sentinel: ErrHTTPStatus, Operation: "logout", Status: status}
	}

	c.setAuthenticated(false)
	c.log.Info().Msg("logged out of panel")
	return nil
}

// FetchStatus requests statuslive.html and decodes it into a Snapshot.
func (c *Client) FetchStatus(ctx context.Context) (*Snapshot, error) {
	if !c.IsAuthenticated() {
		return nil, &PanelError{Sentinel: ErrNotAuthenticated, Operation: "fetch status"}
	}

	status, body, err := c.get(ctx, "fetch status", "/statuslive.html", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &PanelError{Sentinel: ErrHTTPStatus, Operation: "fetch status", Status: status}
	}
	return DecodeStatus(body)
}

// SetAreaAction submits an arm/disarm command for the given 1-based area.
// The panel gives no acknowledgment in the response body; only the HTTP
// status is checked.
func (c *Client) SetAreaAction(ctx context.Context, area int, action Action) error {
	if !c.IsAuthenticated() {
		return &PanelError{Sentinel: ErrNotAuthenticated, Operation: "area action"}
	}

	// The panel indexes areas from zero; callers use the human number.
	idx := area - 1
	if idx < 0 {
		return &PanelError{
			Sentinel:  ErrInvalidArgument,
			Operation: "area action",
			Err:       fmt.Errorf("invalid area %d", area),
		}
	}
	code, ok := actionCodes[action]
	if !ok {
		return &PanelError{
			Sentinel:  ErrInvalidArgument,
			Operation: "area action",
			Err:       fmt.Errorf("invalid action %q, valid actions are %v", action, ValidActions()),
		}
	}

	params := url.Values{}
	params.Set("area", fmt.Sprintf("%02d", idx))
	params.Set("value", code)
	status, _, err := c.get(ctx, "area action", "/statuslive.html", params)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &PanelError{Sentinel: ErrHTTPStatus, Operation: "area action", Status: status}
	}

	c.log.Debug().Int("area", area).Str("action", string(action)).Msg("area action submitted")
	return nil
}

// extractSalt pulls the 16-character session salt out of the login page.
func extractSalt(body string) (string, error) {
	off := strings.Index(body, loginSaltMarker)
	if off == -1 || off+saltOffset+saltLength > len(body) {
		return "", &PanelError{
			Sentinel:  ErrProtocol,
			Operation: "login",
			Body:      body,
			Err:       errors.New("wrong page fetched, did you connect to the right host and port?"),
		}
	}
	return body[off+saltOffset : off+saltOffset+saltLength], nil
}

// get issues one GET against the panel and returns the status code and
// body. Transport failures are classified into the timeout/unavailable
// sentinels.
func (c *Client) get(ctx context.Context, operation, path string, params url.Values) (int, string, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, "", &PanelError{Sentinel: ErrInvalidArgument, Operation: operation, Err: err}
	}

	res, err := c.http.Do(req)
	if err != nil {
		sentinel := ErrUnavailable
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			sentinel = ErrTimeout
		}
		return 0, "", &PanelError{Sentinel: sentinel, Operation: operation, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, "", &PanelError{Sentinel: ErrUnavailable, Operation: operation, Err: err}
	}
	return res.StatusCode, string(body), nil
}
