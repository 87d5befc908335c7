package collector

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/fieldwatch/telemetry-collector/internal/protocol"
	"github.com/fieldwatch/telemetry-collector/internal/writer"
	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

const (
	handshakeDeadline  = 45 * time.Second
	pulseSendDeadline  = 15 * time.Second
	bodyReadDeadline   = 80 * time.Second
	bodyReadChunk      = 4096
	maxDeclaredIDBytes = 1024
)

// JobSink accepts writer jobs from a connection handler. *writer.Queue
// satisfies this directly.
type JobSink interface {
	Push(writer.Job) error
}

// Connection drives one accepted socket through the handshake,
// registration, and steady-state pulse/ack cycle. Each accepted
// connection gets its own Connection running in its own goroutine; the
// registry only ever holds the net.Conn, never the Connection value
// itself, so the handler is the sole owner of its socket.
type Connection struct {
	conn     net.Conn
	registry *Registry
	jobs     JobSink
	logger   *log.Logger
	nodeID   string
	shutdown <-chan struct{}
}

// NewConnection wraps an accepted socket. shutdown is closed when the
// server is stopping; the connection's pulse loop observes it between
// cycles.
func NewConnection(conn net.Conn, registry *Registry, jobs JobSink, logger *log.Logger, shutdown <-chan struct{}) *Connection {
	return &Connection{conn: conn, registry: registry, jobs: jobs, logger: logger, shutdown: shutdown}
}

// Serve runs the full per-connection state machine until the
// connection closes, a protocol error occurs, or shutdown is
// signaled. It always closes the socket and cleans up the registry
// entry (if any) before returning.
func (c *Connection) Serve() {
	defer c.close()

	if !c.sendLiteral(protocol.Connected, handshakeDeadline) {
		return
	}

	if !c.awaitID() {
		return
	}

	for {
		select {
		case <-c.shutdown:
			return
		default:
		}

		if !c.runPulseCycle() {
			return
		}
	}
}

// awaitID implements state AwaitingId: read the declared id, qualify
// it with the remote port, register, and ack.
func (c *Connection) awaitID() bool {
	c.conn.SetReadDeadline(time.Now().Add(handshakeDeadline))

	raw, err := readLine(c.conn, maxDeclaredIDBytes)
	if err != nil {
		c.logger.Printf("conn %s: awaiting id: %v", c.conn.RemoteAddr(), err)
		return false
	}

	declared := strings.TrimSpace(raw)
	if declared == "" {
		c.logger.Printf("conn %s: empty declared id", c.conn.RemoteAddr())
		return false
	}

	port := remotePort(c.conn)
	c.nodeID = fmt.Sprintf("%s-%s", declared, port)

	if !c.sendLiteral(protocol.IDReceived, handshakeDeadline) {
		return false
	}

	c.registry.Put(c.nodeID, c.conn)
	c.logger.Printf("conn %s: registered as %s", c.conn.RemoteAddr(), c.nodeID)
	return true
}

// runPulseCycle implements states Registered -> AwaitingLength ->
// AwaitingBody -> Registered for a single minute pulse.
func (c *Connection) runPulseCycle() bool {
	time.Sleep(sleepUntilNextMinute(time.Now()))

	if !c.sendLiteral(protocol.ReadyToIndex, pulseSendDeadline) {
		return false
	}

	c.conn.SetReadDeadline(time.Now().Add(bodyReadDeadline))
	lengthField := make([]byte, protocol.LengthFieldSize)
	if _, err := readFull(c.conn, lengthField); err != nil {
		c.logger.Printf("conn %s: reading length field: %v", c.nodeID, err)
		return false
	}

	n, err := protocol.DecodeLength(lengthField)
	if err != nil {
		c.logger.Printf("conn %s: bad length field: %v", c.nodeID, err)
		c.sendLiteral(protocol.ProtocolError, pulseSendDeadline)
		return false
	}

	// Preserved wire behavior: the ack is sent immediately after the
	// length field is parsed, before the body is read. This predates
	// the rewrite and a v2 of the protocol should flip the order so
	// DATA_RECEIVED actually means "body parsed"; until then, nodes in
	// the field depend on seeing it here.
	if !c.sendLiteral(protocol.DataReceived, pulseSendDeadline) {
		return false
	}

	body := make([]byte, n)
	if _, err := readFullChunked(c.conn, body, bodyReadChunk); err != nil {
		c.logger.Printf("conn %s: reading body: %v", c.nodeID, err)
		return false
	}

	c.registry.Touch(c.nodeID)
	c.handleBody(body)
	return true
}

// handleBody decodes the body and enqueues a writer job. NO_DATA and
// decode failures are handled without a job being enqueued.
func (c *Connection) handleBody(body []byte) {
	if string(body) == protocol.NoData {
		return
	}

	var readings []models.Reading
	if err := json.Unmarshal(body, &readings); err != nil {
		c.logger.Printf("conn %s: discarding undecodable batch: %v", c.nodeID, err)
		return
	}

	batch := models.Batch{NodeID: c.nodeID, Readings: readings}
	if err := c.jobs.Push(writer.NewJob(c.nodeID, batch)); err != nil {
		c.logger.Printf("conn %s: dropping batch, queue unavailable: %v", c.nodeID, err)
	}
}

// sendLiteral writes a fixed control word under a write deadline.
func (c *Connection) sendLiteral(word string, deadline time.Duration) bool {
	c.conn.SetWriteDeadline(time.Now().Add(deadline))
	if _, err := c.conn.Write([]byte(word)); err != nil {
		c.logger.Printf("conn %s: sending %s: %v", c.conn.RemoteAddr(), word, err)
		return false
	}
	return true
}

// close removes the registry entry (only if we still own it) and
// closes the socket idempotently.
func (c *Connection) close() {
	if c.nodeID != "" {
		c.registry.DeleteIfOwned(c.nodeID, c.conn)
	}
	c.conn.Close()
}

// sleepUntilNextMinute computes the wait until the next minute
// boundary; if that wait would be under 5 seconds, a full extra minute
// is added so consecutive pulses stay spaced apart.
func sleepUntilNextMinute(now time.Time) time.Duration {
	second := now.Second()
	micros := now.Nanosecond() / 1000
	wait := 60.0 - float64(second) - float64(micros)/1e6
	if wait < 5 {
		wait += 60
	}
	return time.Duration(wait * float64(time.Second))
}

// remotePort extracts the numeric port from a connection's remote
// address.
func remotePort(conn net.Conn) string {
	_, port, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return port
}

// readLine reads up to max bytes until a newline or EOF, stripping the
// trailing newline. It is used only for the handshake's declared id,
// which per the wire protocol is a short line with no embedded
// newline.
func readLine(conn net.Conn, max int) (string, error) {
	buf := make([]byte, 0, 256)
	one := make([]byte, 1)
	for len(buf) < max {
		n, err := conn.Read(one)
		if n > 0 {
			if one[0] == '\n' {
				return string(buf), nil
			}
			buf = append(buf, one[0])
		}
		if err != nil {
			if len(buf) > 0 {
				return string(buf), nil
			}
			return "", err
		}
	}
	return string(buf), nil
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

// readFullChunked reads exactly len(buf) bytes in reads of at most
// chunkSize, matching the wire spec's "chunks of up to 4096" body read.
func readFullChunked(conn net.Conn, buf []byte, chunkSize int) (int, error) {
	total := 0
	for total < len(buf) {
		end := total + chunkSize
		if end > len(buf) {
			end = len(buf)
		}
		n, err := conn.Read(buf[total:end])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
