package node

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fieldwatch/telemetry-collector/internal/protocol"
	"github.com/fieldwatch/telemetry-collector/pkg/config"
	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestEncodeBodyEmptyIsNoData(t *testing.T) {
	body, err := encodeBody(nil)
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	if string(body) != protocol.NoData {
		t.Errorf("expected NO_DATA, got %q", body)
	}
}

func TestEncodeBodyNonEmptyIsJSONArray(t *testing.T) {
	body, err := encodeBody([]models.Reading{
		{Sensor: models.RainGauge, Value: models.FloatValue(0.2794), StationID: 7, Lat: 60.79, Lon: -161.78},
	})
	if err != nil {
		t.Fatalf("encodeBody: %v", err)
	}
	var decoded []models.Reading
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decoding produced body: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(decoded))
	}
}

func TestHandshakeSucceedsOnExpectedSequence(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	c := New(config.NodeConfig{NodeID: "NODE_a"}, NewBuffer(), discardLogger())

	done := make(chan bool, 1)
	go func() {
		done <- c.handshake(clientConn)
	}()

	if _, err := serverConn.Write([]byte(protocol.Connected)); err != nil {
		t.Fatalf("writing CONNECTED: %v", err)
	}

	reader := bufio.NewReader(serverConn)
	declared, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading declared id: %v", err)
	}
	if strings.TrimSpace(declared) != "NODE_a" {
		t.Errorf("unexpected declared id: %q", declared)
	}

	if _, err := serverConn.Write([]byte(protocol.IDReceived)); err != nil {
		t.Fatalf("writing ID_RECEIVED: %v", err)
	}

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected handshake to succeed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete in time")
	}
}

func TestHandshakeFailsOnUnexpectedConnectedLiteral(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	c := New(config.NodeConfig{NodeID: "NODE_a"}, NewBuffer(), discardLogger())

	done := make(chan bool, 1)
	go func() {
		done <- c.handshake(clientConn)
	}()

	serverConn.Write([]byte("NOT_VALID"))

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected handshake to fail on unexpected literal")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not return in time")
	}
}

func TestPulseCycleClearsBufferOnDataReceived(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	buf := NewBuffer()
	buf.SetReady(true)
	buf.Append(models.Reading{Sensor: models.RainGauge, Value: models.FloatValue(0.2794), StationID: 7})

	c := New(config.NodeConfig{}, buf, discardLogger())

	done := make(chan bool, 1)
	go func() {
		done <- c.pulseCycle(clientConn)
	}()

	serverConn.Write([]byte(protocol.ReadyToIndex))

	lengthField := make([]byte, protocol.LengthFieldSize)
	if _, err := serverConn.Read(lengthField); err != nil {
		t.Fatalf("reading length field: %v", err)
	}
	n, err := protocol.DecodeLength(lengthField)
	if err != nil {
		t.Fatalf("decoding length: %v", err)
	}
	body := make([]byte, n)
	if _, err := serverConn.Read(body); err != nil {
		t.Fatalf("reading body: %v", err)
	}
	var decoded []models.Reading
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 reading in payload, got %d", len(decoded))
	}

	serverConn.Write([]byte(protocol.DataReceived))

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected pulse cycle to succeed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pulse cycle did not complete in time")
	}

	if buf.Len() != 0 {
		t.Errorf("expected buffer cleared after DATA_RECEIVED, got len %d", buf.Len())
	}
}

func TestPulseCyclePreservesBufferOnDesync(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	buf := NewBuffer()
	buf.SetReady(true)
	buf.Append(models.Reading{Sensor: models.RainGauge, Value: models.FloatValue(1), StationID: 1})

	c := New(config.NodeConfig{}, buf, discardLogger())

	done := make(chan bool, 1)
	go func() {
		done <- c.pulseCycle(clientConn)
	}()

	serverConn.Write([]byte(protocol.ReadyToIndex))

	lengthField := make([]byte, protocol.LengthFieldSize)
	serverConn.Read(lengthField)
	n, _ := protocol.DecodeLength(lengthField)
	body := make([]byte, n)
	serverConn.Read(body)

	serverConn.Write([]byte(protocol.ReadyToIndex[:len(protocol.DataReceived)]))

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected pulse cycle to fail on desync")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pulse cycle did not complete in time")
	}

	if buf.Len() != 1 {
		t.Errorf("expected buffer preserved on desync, got len %d", buf.Len())
	}
}
