// Probe is a smoke client for a running api service: it registers two users,
// opens a realtime session for each, sends a message from one to the other
// and reports what arrived over the socket.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hezronokwach/soshi/internal/logger"
	"github.com/hezronokwach/soshi/internal/model"
	"github.com/hezronokwach/soshi/internal/realtime"
)

func main() {
	logger.SetPrefix("probe")
	baseURL := flag.String("url", "http://localhost:8080", "api base URL")
	flag.Parse()

	if err := run(*baseURL); err != nil {
		logger.Errorf("probe failed: %v", err)
		os.Exit(1)
	}
	logger.Info("probe passed")
}

func run(baseURL string) error {
	suffix := strings.Split(uuid.NewString(), "-")[0]

	alice, err := register(baseURL, "alice_"+suffix)
	if err != nil {
		return fmt.Errorf("register alice: %w", err)
	}
	bob, err := register(baseURL, "bob_"+suffix)
	if err != nil {
		return fmt.Errorf("register bob: %w", err)
	}
	logger.Infof("registered alice=%d bob=%d", alice.user.ID, bob.user.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bobSession, bobNotifs, err := openSession(ctx, baseURL, bob)
	if err != nil {
		return fmt.Errorf("bob session: %w", err)
	}
	defer bobSession.Logout()

	aliceSession, _, err := openSession(ctx, baseURL, alice)
	if err != nil {
		return fmt.Errorf("alice session: %w", err)
	}
	defer aliceSession.Logout()

	// Sockets need a moment to register before presence and fan-out apply.
	time.Sleep(500 * time.Millisecond)

	aliceSession.StartNewConversation(bob.user)
	if _, err := aliceSession.OpenConversation(ctx, bob.user.ID); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	const probeText = "probe says hi"
	if err := aliceSession.Send(ctx, probeText); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case n := <-bobNotifs:
			logger.Infof("bob notification: type=%s content=%q", n.Type, n.Content)
		case <-deadline:
			return fmt.Errorf("bob never saw the message")
		case <-time.After(200 * time.Millisecond):
		}

		conversations := bobSession.Conversations.Conversations()
		for _, c := range conversations {
			if c.UserID == alice.user.ID && c.LastMessage == probeText {
				logger.Infof("bob sees the message, unread=%d is_request=%v", c.UnreadCount, c.IsRequest)
				return nil
			}
		}
	}
}

type account struct {
	user      model.UserPublic
	sessionID string
}

func register(baseURL, username string) (account, error) {
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"email":    username + "@probe.local",
		"nickname": username,
		"password": "probe-password-1",
	})
	resp, err := http.Post(baseURL+"/api/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return account{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return account{}, fmt.Errorf("register status %d", resp.StatusCode)
	}

	var user model.UserPublic
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return account{}, err
	}
	for _, c := range resp.Cookies() {
		if c.Name == "soshi_session" {
			return account{user: user, sessionID: c.Value}, nil
		}
	}
	return account{}, fmt.Errorf("no session cookie in register response")
}

func openSession(ctx context.Context, baseURL string, acc account) (*realtime.Session, chan model.Notification, error) {
	api := realtime.NewHTTPClient(baseURL, acc.sessionID)

	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws"
	header := http.Header{}
	header.Set("Cookie", "soshi_session="+acc.sessionID)
	dialer := &realtime.WebsocketDialer{URL: wsURL, Header: header}

	session := realtime.NewSession(acc.user.ID, api, dialer)
	notifs := make(chan model.Notification, 16)
	session.OnNotification = func(n model.Notification) {
		select {
		case notifs <- n:
		default:
		}
	}
	if err := session.Start(ctx); err != nil {
		return nil, nil, err
	}
	return session, notifs, nil
}
