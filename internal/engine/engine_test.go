package engine

import (
	"bufio"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/solosha/solominer/internal/status"
)

type fakePool struct {
	t        *testing.T
	listener net.Listener
	conn     net.Conn
	reader   *bufio.Reader
}

func startFakePool(t *testing.T) *fakePool {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakePool{t: t, listener: ln}
}

func (p *fakePool) addr() (string, int) {
	addr := p.listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func (p *fakePool) accept() {
	conn, err := p.listener.Accept()
	if err != nil {
		return
	}
	p.conn = conn
	p.reader = bufio.NewReader(conn)
}

func (p *fakePool) nextRequestID() int {
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return -1
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return -1
	}
	id, _ := m["id"].(float64)
	return int(id)
}

func (p *fakePool) send(line string) {
	if p.conn == nil {
		return
	}
	p.conn.Write([]byte(line + "\n"))
}

func (p *fakePool) close() {
	if p.conn != nil {
		p.conn.Close()
	}
	p.listener.Close()
}

const zero32 = "0000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000"

func TestEngineMinesAndSubmitsShare(t *testing.T) {
	pool := startFakePool(t)
	defer pool.close()

	host, port := pool.addr()

	shareSubmitted := make(chan struct{}, 1)

	go func() {
		pool.accept()
		if pool.conn == nil {
			return
		}

		// mining.subscribe
		id := pool.nextRequestID()
		pool.send(`{"id":` + strconv.Itoa(id) + `,"result":[[["mining.set_difficulty","x"],["mining.notify","y"]],"00",4],"error":null}`)

		// mining.authorize
		id = pool.nextRequestID()
		pool.send(`{"id":` + strconv.Itoa(id) + `,"result":true,"error":null}`)

		// initial mining.suggest_difficulty from Engine: ack it, then push an
		// easy difficulty and a job so the kernel finds a share almost
		// immediately.
		id = pool.nextRequestID()
		pool.send(`{"id":` + strconv.Itoa(id) + `,"result":true,"error":null}`)

		pool.send(`{"id":null,"method":"mining.set_difficulty","params":[0.0000001]}`)
		pool.send(`{"id":null,"method":"mining.notify","params":["job1","` + strings.Repeat("00", 32) + `","01","02",[],"00000000","1d00ffff","00000000",true]}`)

		for {
			line, err := pool.reader.ReadString('\n')
			if err != nil {
				return
			}
			var m map[string]interface{}
			if err := json.Unmarshal([]byte(line), &m); err != nil {
				continue
			}
			if m["method"] == "mining.submit" {
				select {
				case shareSubmitted <- struct{}{}:
				default:
				}
				pool.send(`{"id":` + strconv.Itoa(int(m["id"].(float64))) + `,"result":true,"error":null}`)
			}
		}
	}()

	eng := New(nil)
	settings := Settings{
		Host:            host,
		Port:            port,
		BitcoinAddress:  "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2",
		WorkerName:      "worker1",
		Network:         "mainnet",
		PerformanceMode: "cpu",
		CPUThreads:      1,
	}

	if err := eng.Start(settings); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	select {
	case <-shareSubmitted:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a share submission")
	}

	if s := eng.Status(); s != status.Mining {
		t.Fatalf("status = %q, want mining", s)
	}
}

func TestEngineStartRequiresAddress(t *testing.T) {
	eng := New(nil)
	err := eng.Start(Settings{Host: "x", Port: 1})
	if err != ErrAddressRequired {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
}

func TestEngineStartIsIdempotentWhileRunning(t *testing.T) {
	pool := startFakePool(t)
	defer pool.close()
	host, port := pool.addr()

	go pool.accept()

	eng := New(nil)
	settings := Settings{
		Host:           host,
		Port:           port,
		BitcoinAddress: "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2",
		CPUThreads:     1,
	}
	if err := eng.Start(settings); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer eng.Stop()

	if err := eng.Start(settings); err != nil {
		t.Fatalf("second Start should be a no-op, got error: %v", err)
	}
}

func TestStatusDoesNotRegressFromMining(t *testing.T) {
	eng := New(nil)
	eng.setStatus(status.Mining)
	eng.setStatus(status.Subscribed)
	if got := eng.Status(); got != status.Mining {
		t.Fatalf("status regressed to %q", got)
	}
	eng.setStatus(status.Disconnected)
	if got := eng.Status(); got != status.Disconnected {
		t.Fatalf("expected disconnect to override mining, got %q", got)
	}
}
