package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the device's view of its link to the host.
type ConnState string

const (
	ConnConnecting   ConnState = "connecting"
	ConnLive         ConnState = "live"
	ConnDisconnected ConnState = "disconnected"
)

const (
	minReconnectDelay = 250 * time.Millisecond
	maxReconnectDelay = 10 * time.Second
)

var (
	errNotConnected = errors.New("not connected to the host")
	errSeatRejected = errors.New("host rejected the seat token")
)

// DeviceClient keeps one seat's websocket to the host alive and feeds every
// frame into an Orchestrator. It is the Orchestrator's Sender.
type DeviceClient struct {
	url    string
	token  string
	dialer *websocket.Dialer
	orch   *Orchestrator

	mu      sync.Mutex
	conn    *websocket.Conn
	state   ConnState
	writeMu sync.Mutex

	// OnState is called on every connection state change.
	OnState func(ConnState)
	// OnEvent receives the public messages the orchestrator does not track:
	// reports, narration and notices.
	OnEvent func(Envelope)
}

func NewDeviceClient(url, token string, reg *Registry) *DeviceClient {
	d := &DeviceClient{
		url:    url,
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		state:  ConnDisconnected,
	}
	d.orch = NewOrchestrator(reg, d)
	return d
}

func (d *DeviceClient) Orchestrator() *Orchestrator {
	return d.orch
}

func (d *DeviceClient) State() ConnState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *DeviceClient) setState(s ConnState) {
	d.mu.Lock()
	changed := d.state != s
	d.state = s
	d.mu.Unlock()
	if changed && d.OnState != nil {
		d.OnState(s)
	}
}

// Send writes one envelope to the host.
func (d *DeviceClient) Send(env Envelope) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	LogWSMessage("OUT", "host", string(data))

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (d *DeviceClient) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.token)
	conn, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", errSeatRejected, resp.Status)
		}
		return nil, err
	}
	return conn, nil
}

// Run connects to the host and reconnects with backoff until ctx is done
// or the host refuses the token. Every new connection starts with a
// resync.
func (d *DeviceClient) Run(ctx context.Context) error {
	delay := minReconnectDelay
	for {
		d.setState(ConnConnecting)
		conn, err := d.dial(ctx)
		if err != nil {
			d.setState(ConnDisconnected)
			if errors.Is(err, errSeatRejected) {
				return err
			}
			log.Printf("Device: connect to %s failed: %v, retrying in %s", d.url, err, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, maxReconnectDelay)
			continue
		}
		delay = minReconnectDelay

		d.mu.Lock()
		d.conn = conn
		d.mu.Unlock()
		d.setState(ConnLive)
		if err := d.orch.Resync(); err != nil {
			log.Printf("Device: resync failed: %v", err)
		}

		d.readLoop(ctx, conn)

		d.mu.Lock()
		d.conn = nil
		d.mu.Unlock()
		conn.Close()
		d.setState(ConnDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (d *DeviceClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Device: connection lost: %v", err)
			}
			return
		}
		LogWSMessage("IN", "host", string(message))

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("Device: bad frame from host: %v", err)
			continue
		}
		d.orch.HandleEnvelope(env)
		switch env.Type {
		case MsgReport, MsgNarration, MsgNotice:
			if d.OnEvent != nil {
				d.OnEvent(env)
			}
		}
	}
}
