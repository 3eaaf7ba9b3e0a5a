// Package main is a CI-friendly end-to-end smoke test for a running teamchat server.
//
// It validates:
//   - signup + login over the REST API
//   - channel creation and durable join
//   - handshake + subprotocol selection, identify with an access token
//   - typing fanout to the other member only
//   - send -> new-message fanout with author identity
//   - history fetch containing the relayed message
//   - offline presence when a client disconnects
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "teamchat/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "teamchat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
	smokePassword      = "smoke-test-password-42"
)

type smokeUser struct {
	ID    string
	Name  string
	Token string
}

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "Server base URL (http/https)")
		origin  = flag.String("origin", "http://localhost", "Origin header to send on the WebSocket handshake")
		text    = flag.String("text", "hello teamchat 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	wsURL, err := wsEndpoint(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	api := &http.Client{Timeout: *timeout}
	run := time.Now().UnixNano()

	a := mustSignupLogin(root, api, *baseURL, fmt.Sprintf("smoke-a-%d@example.com", run), "Smoke A")
	b := mustSignupLogin(root, api, *baseURL, fmt.Sprintf("smoke-b-%d@example.com", run), "Smoke B")

	channelID := mustCreateChannel(root, api, *baseURL, a, fmt.Sprintf("smoke-%d", run))
	mustJoinREST(root, api, *baseURL, b, channelID)

	ca := mustConnect(root, "A", wsURL, *origin, a, *timeout)
	defer closeWS(ca.conn)
	cb := mustConnect(root, "B", wsURL, *origin, b, *timeout)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s channel=%s\n", a.ID, b.ID, channelID)
	}

	mustJoinWS(root, ca, channelID, *timeout)
	mustJoinWS(root, cb, channelID, *timeout)

	presence := map[string]struct{}{v1.TypePresenceChanged: {}}

	mustWrite(root, ca.conn, envelope(v1.TypeTyping, v1.ChannelRefPayload{ChannelID: channelID}), *timeout)
	typing := cb.mustReadUntilType(root, v1.TypeUserTyping, *timeout, presence)
	var tp v1.TypingPayload
	mustDecode(typing, &tp)
	if tp.UserID != a.ID || tp.ChannelID != channelID || tp.ExpiresInMS <= 0 {
		fatalf("user-typing mismatch: %+v", tp)
	}

	mustWrite(root, ca.conn, envelope(v1.TypeSendMessage, v1.SendMessagePayload{ChannelID: channelID, Content: *text}), *timeout)
	own := ca.mustReadUntilType(root, v1.TypeNewMessage, *timeout, presence)
	got := cb.mustReadUntilType(root, v1.TypeNewMessage, *timeout, presence)

	var mine, theirs v1.NewMessagePayload
	mustDecode(own, &mine)
	mustDecode(got, &theirs)
	if mine.ID == "" || mine.ID != theirs.ID || mine.Seq != theirs.Seq {
		fatalf("new-message differs between members: A=%+v B=%+v", mine, theirs)
	}
	if theirs.UserID != a.ID || theirs.Author.DisplayName != a.Name || theirs.Content != *text {
		fatalf("new-message identity/content mismatch: %+v", theirs)
	}

	mustHistoryContains(root, api, *baseURL, b, channelID, theirs.ID, *timeout)

	closeWS(cb.conn)
	mustSeeOffline(root, ca, b.ID, *timeout)

	fmt.Printf("OK: A=%s B=%s channel_id=%s seq=%d message_id=%s\n", a.ID, b.ID, channelID, theirs.Seq, theirs.ID)
}

func wsEndpoint(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

// ---- REST ----

func mustCall(ctx context.Context, api *http.Client, method, endpoint, bearer string, body any, wantStatus int, out any) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(mustJSON(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		fatalf("build %s %s: %v", method, endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := api.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, endpoint, err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxReadBytes))
	if res.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", method, endpoint, res.StatusCode, wantStatus, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, endpoint, err)
		}
	}
}

func mustSignupLogin(ctx context.Context, api *http.Client, base, email, name string) smokeUser {
	mustCall(ctx, api, http.MethodPost, base+"/api/auth/signup", "", map[string]string{
		"email": email, "password": smokePassword, "full_name": name,
	}, http.StatusCreated, nil)

	var login struct {
		User struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"user"`
		AccessToken string `json:"access_token"`
	}
	mustCall(ctx, api, http.MethodPost, base+"/api/auth/login", "", map[string]string{
		"email": email, "password": smokePassword,
	}, http.StatusOK, &login)

	if login.User.ID == "" || login.AccessToken == "" {
		fatalf("login %s: missing user id or token", email)
	}
	return smokeUser{ID: login.User.ID, Name: login.User.DisplayName, Token: login.AccessToken}
}

func mustCreateChannel(ctx context.Context, api *http.Client, base string, u smokeUser, name string) string {
	var out struct {
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	mustCall(ctx, api, http.MethodPost, base+"/api/channels", u.Token, map[string]string{"name": name}, http.StatusCreated, &out)
	if out.Channel.ID == "" {
		fatalf("create channel: missing id")
	}
	return out.Channel.ID
}

func mustJoinREST(ctx context.Context, api *http.Client, base string, u smokeUser, channelID string) {
	mustCall(ctx, api, http.MethodPost, base+"/api/channels/"+url.PathEscape(channelID)+"/join", u.Token, nil, http.StatusOK, nil)
}

func mustHistoryContains(ctx context.Context, api *http.Client, base string, u smokeUser, channelID, messageID string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	mustCall(ctx, api, http.MethodGet, base+"/api/channels/"+url.PathEscape(channelID)+"/messages?limit=10", u.Token, nil, http.StatusOK, &out)
	for _, m := range out.Messages {
		if m.ID == messageID {
			return
		}
	}
	fatalf("history missing message %s", messageID)
}

// ---- WebSocket ----

func mustConnect(parent context.Context, name, wsURL, origin string, u smokeUser, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != defaultSubprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, defaultSubprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, conn, envelope(v1.TypeIdentify, v1.IdentifyPayload{UserID: u.ID, Token: u.Token}), stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeIdentified, stepTimeout, nil)
	var p v1.IdentifiedPayload
	mustDecode(ack, &p)
	if strings.TrimSpace(p.ConnectionID) == "" || p.User.ID != u.ID {
		fatalf("identified mismatch (%s): %+v", name, p)
	}
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if _, ok := v1.ServerTypes[env.Type]; !ok || env.V != v1.Version {
				c.fail(fmt.Errorf("bad envelope: v=%d type=%q", env.V, env.Type))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func mustJoinWS(parent context.Context, c *smokeClient, channelID string, stepTimeout time.Duration) {
	mustWrite(parent, c.conn, envelope(v1.TypeJoinChannel, v1.ChannelRefPayload{ChannelID: channelID}), stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeChannelJoined, stepTimeout, map[string]struct{}{v1.TypePresenceChanged: {}})
	var p v1.ChannelRefPayload
	mustDecode(ack, &p)
	if p.ChannelID != channelID {
		fatalf("channel-joined mismatch (%s): got=%q want=%q", c.name, p.ChannelID, channelID)
	}
}

func mustSeeOffline(parent context.Context, c *smokeClient, userID string, stepTimeout time.Duration) {
	deadline := time.Now().Add(stepTimeout)
	for time.Now().Before(deadline) {
		env := c.mustReadUntilType(parent, v1.TypePresenceChanged, time.Until(deadline), nil)
		var p v1.PresenceChangedPayload
		mustDecode(env, &p)
		if p.UserID == userID && !p.IsOnline {
			return
		}
	}
	fatalf("no offline presence for %s (%s)", userID, c.name)
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if _, ok := skipTypes[env.Type]; ok {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

var envSeq int

func envelope(typ string, payload any) v1.Envelope {
	envSeq++
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("smoke-%d", envSeq),
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, mustJSON(env)); err != nil {
		fatalf("write %s failed: %v", env.Type, err)
	}
}

func mustDecode(env v1.Envelope, dst any) {
	if err := env.Decode(dst); err != nil {
		fatalf("decode %s payload: %v", env.Type, err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
