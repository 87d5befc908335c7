// Package node implements the field-station client: the sensor
// buffer, the connect/reconnect ladder, and the steady-state wire
// protocol that follows the collector's per-minute pulse.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net"
	"time"

	"github.com/fieldwatch/telemetry-collector/internal/protocol"
	"github.com/fieldwatch/telemetry-collector/pkg/config"
	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

const (
	connectedReadDeadline    = 10 * time.Second
	idReceivedReadDeadline   = 10 * time.Second
	pulseReadDeadline        = 90 * time.Second
	jitterDrainDeadline      = 100 * time.Millisecond
	dataReceivedReadDeadline = 50 * time.Second

	retryBackoffBase   = 20 * time.Second
	retryBackoffJitter = 5 * time.Second
	retryBackoffLong   = 180 * time.Second
	retryLongThreshold = 4
)

// Client maintains exactly one healthy connection to the collector,
// registering with the declared node id and then following the
// collector's READY_TO_INDEX pulses.
type Client struct {
	cfg    config.NodeConfig
	buffer *Buffer
	logger *log.Logger
}

// New builds a Client around a shared Buffer the sensor workers also
// write into.
func New(cfg config.NodeConfig, buffer *Buffer, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{cfg: cfg, buffer: buffer, logger: logger}
}

// Run drives the connect loop until ctx is cancelled. Every
// connection failure is logged and followed by a backoff sleep before
// the next attempt.
func (c *Client) Run(ctx context.Context) {
	retry := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port), c.cfg.DialTimeout)
		if err != nil {
			c.logger.Printf("node: connect attempt failed: %v", err)
			retry++
			if !c.backoff(ctx, retry) {
				return
			}
			if retry >= retryLongThreshold {
				retry = 0
			}
			continue
		}

		retry = 0
		c.logger.Printf("node: connected to %s:%d", c.cfg.Host, c.cfg.Port)
		c.serve(ctx, conn)
		c.buffer.SetReady(false)
	}
}

// backoff sleeps the connect-retry ladder's interval, observing ctx
// cancellation. It returns false if the context was cancelled while
// sleeping.
func (c *Client) backoff(ctx context.Context, retry int) bool {
	var wait time.Duration
	if retry < retryLongThreshold {
		wait = retryBackoffBase + time.Duration(rand.Int63n(int64(retryBackoffJitter)))
	} else {
		wait = retryBackoffLong
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// serve runs the handshake then the steady-state pulse loop for one
// connection. It returns when the connection is dropped for any
// reason, leaving the caller to reconnect.
func (c *Client) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if !c.handshake(conn) {
		return
	}
	c.buffer.SetReady(true)

	for {
		if ctx.Err() != nil {
			return
		}
		if !c.pulseCycle(conn) {
			return
		}
	}
}

// handshake reads CONNECTED, sends the declared id, and reads
// ID_RECEIVED. Any deviation drops the connection.
func (c *Client) handshake(conn net.Conn) bool {
	conn.SetReadDeadline(time.Now().Add(connectedReadDeadline))
	buf := make([]byte, len(protocol.Connected))
	if _, err := readFull(conn, buf); err != nil {
		c.logger.Printf("node: reading CONNECTED: %v", err)
		return false
	}
	if string(buf) != protocol.Connected {
		c.logger.Printf("node: expected CONNECTED, got %q", buf)
		return false
	}

	if _, err := conn.Write([]byte(c.cfg.NodeID + "\n")); err != nil {
		c.logger.Printf("node: sending declared id: %v", err)
		return false
	}

	conn.SetReadDeadline(time.Now().Add(idReceivedReadDeadline))
	idBuf := make([]byte, len(protocol.IDReceived))
	if _, err := readFull(conn, idBuf); err != nil {
		c.logger.Printf("node: reading ID_RECEIVED: %v", err)
		return false
	}
	if string(idBuf) != protocol.IDReceived {
		c.logger.Printf("node: expected ID_RECEIVED prefix, got %q", idBuf)
		return false
	}

	return true
}

// pulseCycle runs one READY_TO_INDEX / payload / DATA_RECEIVED round.
// It returns false when the connection should be dropped.
func (c *Client) pulseCycle(conn net.Conn) bool {
	conn.SetReadDeadline(time.Now().Add(pulseReadDeadline))
	pulse := make([]byte, len(protocol.ReadyToIndex))
	if _, err := readFull(conn, pulse); err != nil {
		c.logger.Printf("node: reading READY_TO_INDEX: %v", err)
		return false
	}
	if string(pulse) != protocol.ReadyToIndex {
		c.logger.Printf("node: expected READY_TO_INDEX, got %q", pulse)
		return false
	}

	drainJitter(conn)

	snapshot := c.buffer.Snapshot()
	body, err := encodeBody(snapshot)
	if err != nil {
		c.logger.Printf("node: encoding batch body: %v", err)
		return false
	}

	if err := protocol.WriteFramedBody(conn, body); err != nil {
		c.logger.Printf("node: sending batch: %v", err)
		return false
	}

	conn.SetReadDeadline(time.Now().Add(dataReceivedReadDeadline))
	ack := make([]byte, len(protocol.DataReceived))
	n, err := readFull(conn, ack)
	if err != nil {
		c.logger.Printf("node: reading DATA_RECEIVED: %v", err)
		return false
	}

	got := string(ack[:n])
	switch {
	case got == protocol.DataReceived:
		c.buffer.Clear(len(snapshot))
		return true
	case got == protocol.ReadyToIndex[:n]:
		c.logger.Printf("node: desync, received READY_TO_INDEX instead of DATA_RECEIVED, reconnecting")
		return false
	default:
		c.logger.Printf("node: unexpected ack %q, reconnecting", got)
		return false
	}
}

// drainJitter absorbs any residual bytes an eager server may have
// already written, without blocking the pulse cycle on them.
func drainJitter(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(jitterDrainDeadline))
	scratch := make([]byte, 64)
	for {
		n, err := conn.Read(scratch)
		if n == 0 || err != nil {
			return
		}
	}
}

// encodeBody renders a batch snapshot as the wire body: the literal
// NO_DATA when empty, else a JSON array of readings.
func encodeBody(readings []models.Reading) ([]byte, error) {
	if len(readings) == 0 {
		return []byte(protocol.NoData), nil
	}
	return json.Marshal(readings)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
