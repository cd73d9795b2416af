// Package stratum speaks the Stratum v1 line-delimited JSON-RPC dialect
// used by mining pools: mining.subscribe/authorize/submit, pushed
// mining.notify/set_difficulty/set_extranonce jobs, and the client.*
// housekeeping notifications. It owns the wire protocol only — header
// assembly lives in internal/header, nonce search in internal/kernel, and
// orchestration in internal/engine.
package stratum

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	tcpConnectTimeout  = 30 * time.Second
	keepaliveInterval  = 60 * time.Second
	inactivityTimeout  = 120 * time.Second
	keepaliveTick      = 5 * time.Second
	maxLineSize        = 1 << 20 // 1 MiB

	// submitRateLimit/submitBurst bound mining.submit throughput so a
	// misbehaving kernel loop (or a pool assigning a very low difficulty)
	// can't flood the connection with share submissions.
	submitRateLimit = 20
	submitBurst     = 10
)

// Client is a single Stratum session. It is not safe to reuse concurrently
// from multiple goroutines calling Connect; everything else is.
type Client struct {
	clientID string
	handler  Handler
	log      *logrus.Entry

	mu          sync.Mutex
	conn        net.Conn
	lineReader  *bufio.Reader
	host        string
	pending     map[int]Purpose
	nextMsgID   int
	login       string
	difficulty  float64
	lastSend    time.Time
	lastRecv    time.Time
	closed      chan struct{}
	disconnectOnce *sync.Once

	writeMu sync.Mutex

	submitLimiter *rate.Limiter
}

// NewClient returns a Client that reports session events to handler.
// clientID is the identifier sent with mining.subscribe.
func NewClient(handler Handler, clientID string) *Client {
	return &Client{
		clientID:      clientID,
		handler:       handler,
		log:           logrus.WithField("component", "stratum"),
		closed:        closedChan(),
		submitLimiter: rate.NewLimiter(submitRateLimit, submitBurst),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Connect dials host:port and starts the background read and keepalive
// loops. It returns once the TCP connection is established; subsequent
// protocol events arrive via Handler callbacks.
func (c *Client) Connect(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: tcpConnectTimeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.lineReader = bufio.NewReaderSize(conn, 4096)
	c.host = host
	c.pending = make(map[int]Purpose)
	c.nextMsgID = 1
	c.login = ""
	now := time.Now()
	c.lastSend = now
	c.lastRecv = now
	c.closed = make(chan struct{})
	c.disconnectOnce = &sync.Once{}
	c.mu.Unlock()

	go c.readLoop()
	go c.keepaliveLoop()

	return nil
}

// Disconnected returns a channel that closes when the current connection
// ends, whether by protocol error, remote close, or Close.
func (c *Client) Disconnected() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close ends the current connection, if any. Safe to call more than once.
func (c *Client) Close() error {
	c.handleDisconnect(ErrClosedByUser)
	return nil
}

// Subscribe sends mining.subscribe.
func (c *Client) Subscribe() error {
	return c.send("mining.subscribe", PurposeSubscribe, []interface{}{c.clientID})
}

// Authorize sends mining.authorize for login (typically "<address>.<worker>").
func (c *Client) Authorize(login string) error {
	c.mu.Lock()
	c.login = login
	c.mu.Unlock()
	return c.send("mining.authorize", PurposeAuthorize, []interface{}{login, "x"})
}

// SubmitShare sends mining.submit for a candidate solution. It waits on the
// submit rate limiter first, so a flurry of near-simultaneous finds from
// multiple workers gets spaced out rather than hammering the pool.
func (c *Client) SubmitShare(jobID, extranonce2Hex, nTimeHex, nonceHex string) error {
	if err := c.submitLimiter.Wait(context.Background()); err != nil {
		return err
	}
	c.mu.Lock()
	login := c.login
	c.mu.Unlock()
	return c.send("mining.submit", PurposeSubmit, []interface{}{login, jobID, extranonce2Hex, nTimeHex, nonceHex})
}

// SuggestDifficulty sends mining.suggest_difficulty as a deliberate
// difficulty request (as opposed to the keepalive's harmless ping use of
// the same method).
func (c *Client) SuggestDifficulty(difficulty float64) error {
	return c.send("mining.suggest_difficulty", PurposeSuggestDifficulty, []interface{}{difficulty})
}

func (c *Client) send(method string, purpose Purpose, params []interface{}) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	id := c.nextMsgID
	c.nextMsgID++
	c.pending[id] = purpose
	conn := c.conn
	c.lastSend = time.Now()
	c.mu.Unlock()

	data, err := json.Marshal(wireRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = conn.Write(data)
	return err
}

func (c *Client) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := c.lineReader.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxLineSize {
			return nil, ErrLineTooLong
		}
		if !isPrefix {
			return line, nil
		}
	}
}

func (c *Client) readLoop() {
	for {
		line, err := c.readLine()
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		if len(line) == 0 {
			continue
		}
		c.mu.Lock()
		c.lastRecv = time.Now()
		c.mu.Unlock()
		c.dispatchLine(line)
	}
}

func (c *Client) dispatchLine(line []byte) {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		c.log.WithError(err).Warn("failed to parse line, disconnecting")
		c.handler.OnError(err)
		c.handleDisconnect(err)
		return
	}

	if msg.Method != "" {
		c.handleNotification(msg.Method, msg.Params, msg.ID)
		return
	}
	if msg.ID != nil {
		c.handleResponse(*msg.ID, msg.Result, msg.Error)
		return
	}
	c.log.Warn("line is neither a notification nor a response")
}

func (c *Client) handleNotification(method string, params json.RawMessage, id *int) {
	switch method {
	case "mining.notify":
		job, err := parseNotify(params)
		if err != nil {
			c.log.WithError(err).Warn("invalid job, keeping previous job")
			c.handler.OnError(err)
			return
		}
		c.handler.OnJob(job)

	case "mining.set_difficulty":
		diff, err := parseSetDifficulty(params)
		if err != nil {
			c.log.WithError(err).Warn("invalid set_difficulty")
			c.handler.OnError(err)
			return
		}
		c.mu.Lock()
		c.difficulty = diff
		c.mu.Unlock()
		c.handler.OnDifficulty(diff)

	case "mining.set_extranonce":
		extranonce1, size, err := parseSetExtranonce(params)
		if err != nil {
			c.log.WithError(err).Warn("invalid set_extranonce")
			c.handler.OnError(err)
			return
		}
		c.handler.OnSubscribed(extranonce1, size, nil)

	case "client.get_version":
		if id != nil {
			c.respondVersion(*id)
		}

	case "client.show_message":
		c.log.Info("pool message received")

	case "client.reconnect":
		host, port, err := parseReconnect(params)
		if err != nil {
			c.log.WithError(err).Warn("invalid client.reconnect")
			return
		}
		c.mu.Lock()
		currentHost := c.host
		c.mu.Unlock()
		if host != "" && host != currentHost {
			c.log.WithField("host", host).Info("ignoring client.reconnect to a different host")
			return
		}
		_ = port
		c.handleDisconnect(nil)

	default:
		c.log.WithField("method", method).Debug("unrecognized notification")
	}
}

func (c *Client) respondVersion(id int) {
	data, err := json.Marshal(struct {
		ID     int         `json:"id"`
		Result string      `json:"result"`
		Error  interface{} `json:"error"`
	}{ID: id, Result: c.clientID, Error: nil})
	if err != nil {
		return
	}
	data = append(data, '\n')

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, _ = conn.Write(data)
}

func (c *Client) handleResponse(id int, result, errField json.RawMessage) {
	c.mu.Lock()
	purpose, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.log.WithField("id", id).Debug("response to unknown or already-handled request id")
		return
	}

	err := errorFromField(errField)

	switch purpose {
	case PurposeSubscribe:
		if err != nil {
			c.handler.OnSubscribed(nil, 0, err)
			return
		}
		extranonce1, size, parseErr := parseSubscribeResult(result)
		if parseErr != nil {
			c.handler.OnSubscribed(nil, 0, parseErr)
			return
		}
		c.handler.OnSubscribed(extranonce1, size, nil)

	case PurposeAuthorize:
		if err != nil {
			c.handler.OnAuthorized(false, err)
			return
		}
		c.handler.OnAuthorized(isTruthyResult(result), nil)

	case PurposeSubmit:
		c.handler.OnShareResult(err == nil && isTruthyResult(result), err)

	case PurposeSuggestDifficulty, PurposeKeepalive:
		// pools ack with true/null; nothing else to do.

	default:
		c.log.WithField("purpose", purpose).Debug("response for unrecognized purpose")
	}
}

func (c *Client) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveTick)
	defer ticker.Stop()

	closed := c.Disconnected()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			sinceRecv := time.Since(c.lastRecv)
			sinceSend := time.Since(c.lastSend)
			diff := c.difficulty
			c.mu.Unlock()

			if sinceRecv > inactivityTimeout {
				c.handleDisconnect(ErrInactivityTimeout)
				return
			}
			if sinceSend > keepaliveInterval {
				_ = c.send("mining.suggest_difficulty", PurposeKeepalive, []interface{}{diff})
			}
		}
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	once := c.disconnectOnce
	c.mu.Unlock()
	if once == nil {
		return
	}
	once.Do(func() {
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()
		close(closed)
		if c.handler != nil {
			c.handler.OnDisconnect(err)
		}
	})
}
