// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt"
	log "github.com/sirupsen/logrus"

	"github.com/sdn-microsegment/src/controller/pkg/events"
	"github.com/sdn-microsegment/src/controller/pkg/store"
)

// Payload is the body posted to registered services
type Payload struct {
	EventID int64  `json:"event_id"`
	Event   string `json:"event"`
	IPv4    string `json:"ipv4"`
	OSType  string `json:"os_type"`
	ARP     string `json:"arp"`
}

// PayloadFor builds the notification body for ev
func PayloadFor(ev events.Event) Payload {
	return Payload{
		EventID: ev.ID,
		Event:   string(ev.Kind),
		IPv4:    ev.IP,
		OSType:  ev.OSType,
		ARP:     ev.MAC,
	}
}

// NotifyError is a failed delivery to one service
type NotifyError struct {
	URL    string
	Status int
	Err    error
}

func (e *NotifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notify %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("notify %s: unexpected status %d", e.URL, e.Status)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}

// Notifier posts discovery events to external services. Deliveries are
// attempted once.
type Notifier struct {
	client *http.Client
	secret []byte
}

// NewNotifier creates a notifier. When secret is set every request carries
// an HS256 signed bearer token.
func NewNotifier(timeout time.Duration, secret string) *Notifier {
	n := &Notifier{client: &http.Client{Timeout: timeout}}
	if secret != "" {
		n.secret = []byte(secret)
	}
	return n
}

// Notify posts ev to svc. Any non-2xx response is a NotifyError.
func (n *Notifier) Notify(ctx context.Context, svc store.Service, ev events.Event) error {
	body, err := json.Marshal(PayloadFor(ev))
	if err != nil {
		return &NotifyError{URL: svc.URL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.URL, bytes.NewReader(body))
	if err != nil {
		return &NotifyError{URL: svc.URL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	if n.secret != nil {
		token, err := n.sign(ev)
		if err != nil {
			return &NotifyError{URL: svc.URL, Err: fmt.Errorf("failed to sign token: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return &NotifyError{URL: svc.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NotifyError{URL: svc.URL, Status: resp.StatusCode}
	}

	log.WithFields(log.Fields{
		"service":  svc.Name,
		"event_id": ev.ID,
	}).Infof("Service %s notified", svc.URL)
	return nil
}

func (n *Notifier) sign(ev events.Event) (string, error) {
	now := time.Now()
	claims := jwt.StandardClaims{
		Issuer:    "sdn-controller",
		Subject:   strconv.FormatInt(ev.ID, 10),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(5 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(n.secret)
}
