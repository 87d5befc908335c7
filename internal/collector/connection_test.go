package collector

import (
	"bufio"
	"io"
	"log"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fieldwatch/telemetry-collector/internal/protocol"
	"github.com/fieldwatch/telemetry-collector/internal/writer"
)

func TestSleepUntilNextMinuteAddsSlackNearBoundary(t *testing.T) {
	at := time.Date(2026, 7, 29, 14, 5, 58, 0, time.UTC)
	got := sleepUntilNextMinute(at)
	if got < 60*time.Second {
		t.Errorf("expected the under-5s case to roll to the following minute, got %v", got)
	}
}

func TestSleepUntilNextMinuteNoSlackNeeded(t *testing.T) {
	at := time.Date(2026, 7, 29, 14, 5, 30, 0, time.UTC)
	got := sleepUntilNextMinute(at)
	if got <= 0 || got > 30*time.Second {
		t.Errorf("expected roughly 30s wait, got %v", got)
	}
}

type fakeSink struct {
	jobs []writer.Job
}

func (f *fakeSink) Push(j writer.Job) error {
	f.jobs = append(f.jobs, j)
	return nil
}

// TestConnectionHandshakeRegistersQualifiedID drives the AwaitingId
// state: a node declares "NODE_a", the collector answers ID_RECEIVED
// and registers it under the port-qualified id. Batch handling is
// covered by the handleBody tests below.
func TestConnectionHandshakeRegistersQualifiedID(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	registry := NewRegistry()
	sink := &fakeSink{}
	logger := log.New(io.Discard, "", 0)
	shutdown := make(chan struct{})

	conn := NewConnection(serverConn, registry, sink, logger, shutdown)
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.awaitID()
	}()

	reader := bufio.NewReader(clientConn)

	clientConn.Write([]byte("NODE_a\n"))

	idReceived := make([]byte, len(protocol.IDReceived))
	if _, err := readFullFromReader(reader, idReceived); err != nil {
		t.Fatalf("reading ID_RECEIVED: %v", err)
	}
	if string(idReceived) != protocol.IDReceived {
		t.Fatalf("expected ID_RECEIVED, got %q", idReceived)
	}

	<-done

	ids := registry.NodeIDs()
	if len(ids) != 1 {
		t.Fatalf("expected one registered node, got %v", ids)
	}
	if !strings.HasPrefix(ids[0], "NODE_a-") {
		t.Errorf("expected qualified id with NODE_a- prefix, got %q", ids[0])
	}
}

func TestHandleBodyNoData(t *testing.T) {
	sink := &fakeSink{}
	c := &Connection{nodeID: "NODE_a-1", jobs: sink, logger: log.New(io.Discard, "", 0)}
	c.handleBody([]byte(protocol.NoData))

	if len(sink.jobs) != 0 {
		t.Errorf("expected no job for NO_DATA body, got %d", len(sink.jobs))
	}
}

func TestHandleBodyDecodesReadings(t *testing.T) {
	sink := &fakeSink{}
	c := &Connection{nodeID: "NODE_a-55001", jobs: sink, logger: log.New(io.Discard, "", 0)}

	body := []byte(`[{"Sensor":"Rain Gauge","Value":0.2794,"Station_Id":7,"Lat_deg":60.79,"Lon_deg":-161.78}]`)
	c.handleBody(body)

	if len(sink.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(sink.jobs))
	}
	if sink.jobs[0].NodeID != "NODE_a-55001" {
		t.Errorf("job nodeID mismatch: %q", sink.jobs[0].NodeID)
	}
	if len(sink.jobs[0].Batch.Readings) != 1 {
		t.Errorf("expected one reading, got %d", len(sink.jobs[0].Batch.Readings))
	}
}

func TestHandleBodyDropsUndecodableJSON(t *testing.T) {
	sink := &fakeSink{}
	c := &Connection{nodeID: "NODE_a-1", jobs: sink, logger: log.New(io.Discard, "", 0)}
	c.handleBody([]byte(`not json`))

	if len(sink.jobs) != 0 {
		t.Errorf("expected no job for undecodable body, got %d", len(sink.jobs))
	}
}

func readFullFromReader(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
