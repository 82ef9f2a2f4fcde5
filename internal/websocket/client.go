// Raceline Replay - Telemetry Replay Server
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raceline-dev/replay-server

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/raceline-dev/replay-server/internal/logging"
	"github.com/raceline-dev/replay-server/internal/metrics"
	"github.com/raceline-dev/replay-server/internal/models"
	"github.com/raceline-dev/replay-server/internal/replay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
)

// clientIDCounter assigns unique, monotonically increasing IDs so
// clients can be sorted into a deterministic broadcast order.
var clientIDCounter atomic.Uint64

// Client is a middleman between one websocket connection and the
// Manager. Its sessionKey is fixed at connection time from the URL
// path (SPEC_FULL §6.1); SUBSCRIBE and PLAY both register this
// connection with the Manager's fan-out set if it isn't already
// (SPEC_FULL §4.E), so a client that sends PLAY without a prior
// SUBSCRIBE still receives TELEMETRY_BATCH/PLAYBACK_COMPLETE frames.
// UNSUBSCRIBE is the only command that removes it again.
type Client struct {
	id         uint64
	sessionKey string

	manager *Manager
	engine  Engine
	conn    *websocket.Conn
	send    chan Frame

	subscribed atomic.Bool
}

// NewClient creates a new Client bound to sessionKey.
func NewClient(manager *Manager, engine Engine, conn *websocket.Conn, sessionKey string) *Client {
	return &Client{
		id:         clientIDCounter.Add(1),
		sessionKey: sessionKey,
		manager:    manager,
		engine:     engine,
		conn:       conn,
		send:       make(chan Frame, 256),
	}
}

// ID returns the client's unique identifier for deterministic ordering.
func (c *Client) ID() uint64 { return c.id }

// Start begins the connection's read/write pumps and sends the initial
// REPLAY_STATE frame (SPEC_FULL §4.E: "On connect: register, send
// current REPLAY_STATE (may be null)").
func (c *Client) Start() {
	if snap := c.engine.GetState(c.sessionKey); snap != nil {
		c.enqueue(replayStateFrame(*snap))
	} else {
		c.enqueue(nullReplayStateFrame())
	}
	go c.writePump()
	go c.readPump()
}

func (c *Client) enqueue(frame Frame) {
	select {
	case c.send <- frame:
	default:
		metrics.RecordFrameDropped(frame.Type)
		logging.Warn().Str("session_key", c.sessionKey).Msg("client outbound queue full, dropping frame")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.manager.removeClient(c)
		metrics.TrackConnectedClient(false)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("unexpected websocket close error")
			}
			break
		}
		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.enqueue(errorFrame(replay.PublicMessage(replay.ErrBadFrame)))
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				logging.Error().Err(err).Msg("failed to write frame")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound frame, per the command table in
// SPEC_FULL §6.2 and the semantics in §4.E.
func (c *Client) dispatch(frame InboundFrame) {
	switch frame.Type {
	case CommandSubscribe:
		c.handleSubscribe()
	case CommandUnsubscribe:
		c.handleUnsubscribe()
	case CommandPlay:
		c.handlePlay(frame)
	case CommandPause:
		c.reply(c.engine.Pause(c.sessionKey))
	case CommandStop:
		c.reply(c.engine.Stop(c.sessionKey))
	case CommandSeek:
		c.handleSeek(frame)
	case CommandSpeed:
		c.handleSpeed(frame)
	case CommandGetState:
		c.handleGetState()
	default:
		c.enqueue(errorFrame("Unknown command"))
	}
}

func (c *Client) handleSubscribe() {
	if c.subscribed.CompareAndSwap(false, true) {
		c.manager.addClient(c)
		c.engine.Subscribe(c.sessionKey)
	}
	c.enqueue(subscribedFrame(c.sessionKey))
}

func (c *Client) handleUnsubscribe() {
	if c.subscribed.CompareAndSwap(true, false) {
		c.manager.removeClient(c)
	}
	c.enqueue(unsubscribedFrame())
}

func (c *Client) handlePlay(frame InboundFrame) {
	data, ok := decodeData[PlayData](frame)
	if !ok {
		c.enqueue(errorFrame(replay.PublicMessage(replay.ErrBadFrame)))
		return
	}
	var startTime *time.Time
	if data.StartTime != nil {
		t, err := time.Parse(time.RFC3339Nano, *data.StartTime)
		if err != nil {
			c.enqueue(errorFrame("startTime must be ISO-8601 UTC"))
			return
		}
		startTime = &t
	}

	if c.subscribed.CompareAndSwap(false, true) {
		c.manager.addClient(c)
		c.engine.Subscribe(c.sessionKey)
	}

	snap, err := c.engine.Play(c.sessionKey, startTime)
	c.reply(snap, err)
}

func (c *Client) handleSeek(frame InboundFrame) {
	data, ok := decodeData[SeekData](frame)
	if !ok {
		c.enqueue(errorFrame(replay.PublicMessage(replay.ErrBadFrame)))
		return
	}
	target, err := time.Parse(time.RFC3339Nano, data.TargetTime)
	if err != nil {
		c.enqueue(errorFrame("targetTime must be ISO-8601 UTC"))
		return
	}
	snap, err := c.engine.Seek(c.sessionKey, target)
	c.reply(snap, err)
}

func (c *Client) handleSpeed(frame InboundFrame) {
	data, ok := decodeData[SpeedData](frame)
	if !ok {
		c.enqueue(errorFrame(replay.PublicMessage(replay.ErrBadFrame)))
		return
	}
	snap, err := c.engine.SetSpeed(c.sessionKey, data.Speed)
	c.reply(snap, err)
}

func (c *Client) handleGetState() {
	if snap := c.engine.GetState(c.sessionKey); snap != nil {
		c.enqueue(replayStateFrame(*snap))
	} else {
		c.enqueue(nullReplayStateFrame())
	}
}

// reply sends the result of an Engine mutation as a REPLAY_STATE frame,
// or an ERROR frame if the mutation failed.
func (c *Client) reply(snap models.ReplayStateSnapshot, err error) {
	if err != nil {
		c.enqueue(errorFrame(replay.PublicMessage(err)))
		return
	}
	c.enqueue(replayStateFrame(snap))
}
