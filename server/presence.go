package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const (
	heartbeatInterval = time.Minute
	presenceTimeout   = 10 * time.Second
)

// Presence keeps the directory server informed that this host is
// online and reachable. It posts a heartbeat once a minute and a
// best-effort offline notice on shutdown. A missing or unreachable
// directory only costs log lines; streaming does not depend on it.
type Presence struct {
	baseURL    string
	token      string
	deviceName string
	client     *http.Client
}

func NewPresence(baseURL, token, deviceName string) *Presence {
	return &Presence{
		baseURL:    baseURL,
		token:      token,
		deviceName: deviceName,
		client:     &http.Client{Timeout: presenceTimeout},
	}
}

// Run posts heartbeats until ctx is cancelled, then reports offline.
// Blocks; run it on its own goroutine.
func (p *Presence) Run(ctx context.Context) {
	if p.baseURL == "" {
		log.Printf("presence: no directory server configured, heartbeat disabled")
		return
	}

	p.beat(ctx)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.beat(ctx)
		case <-ctx.Done():
			p.notifyOffline()
			return
		}
	}
}

func (p *Presence) beat(ctx context.Context) {
	if err := p.post(ctx, "/api/devices/heartbeat"); err != nil {
		log.Printf("presence: heartbeat: %v", err)
	}
}

// notifyOffline runs after ctx is already cancelled, so it carries its
// own short deadline.
func (p *Presence) notifyOffline() {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := p.post(ctx, "/api/devices/offline"); err != nil {
		log.Printf("presence: offline notice: %v", err)
	}
}

func (p *Presence) post(ctx context.Context, path string) error {
	body, err := json.Marshal(map[string]string{"deviceName": p.deviceName})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %s", path, resp.Status)
	}
	return nil
}
