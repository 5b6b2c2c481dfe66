package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// ErrConnectionFailed is returned when the editor's control channel cannot
// be reached or refuses the connection.
var ErrConnectionFailed = errors.New("editor control channel unreachable")

// ErrClosed is returned for calls made after the control connection died.
var ErrClosed = errors.New("control connection closed")

const readLimit = 64 << 20 // screenshots arrive base64-encoded in one frame

// Event is a push notification from the editor (node additions, attribute
// changes, lifecycle events).
type Event struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResult struct {
	data json.RawMessage
	err  error
}

// Conn is a control connection to one editor instance. It multiplexes
// request/response calls and push events over a single websocket.
//
// Reconnection is the caller's responsibility: when the socket dies the
// event channel closes and all calls fail with ErrClosed.
type Conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan rpcResult
	nextID    int64

	events chan Event
	done   chan struct{}

	errMu    sync.Mutex
	closeErr error
}

// Dial opens a control connection to the given websocket debugger URL.
func Dial(ctx context.Context, wsURL string) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, wsURL, err)
	}
	ws.SetReadLimit(readLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:      ws,
		cancel:  cancel,
		pending: make(map[int64]chan rpcResult),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
	go c.readLoop(readCtx)
	return c, nil
}

// Events returns the push-event stream. The channel closes when the
// connection dies; that close is the terminal disconnect signal.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection has terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection closed, once Done is closed.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.closeErr
}

// Close tears down the connection. Safe to call multiple times.
func (c *Conn) Close() error {
	c.cancel()
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

func (c *Conn) readLoop(ctx context.Context) {
	var loopErr error
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			loopErr = err
			break
		}

		var frame struct {
			ID     int64           `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		if frame.ID != 0 {
			c.pendingMu.Lock()
			ch := c.pending[frame.ID]
			delete(c.pending, frame.ID)
			c.pendingMu.Unlock()
			if ch == nil {
				continue
			}
			res := rpcResult{data: frame.Result}
			if frame.Error != nil {
				res.err = fmt.Errorf("protocol error %d: %s", frame.Error.Code, frame.Error.Message)
			}
			ch <- res
			continue
		}

		if frame.Method != "" {
			// Drop when the consumer lags; events are advisory signals,
			// state is re-read on the next poll anyway.
			select {
			case c.events <- Event{Method: frame.Method, Params: frame.Params}:
			default:
			}
		}
	}

	c.errMu.Lock()
	c.closeErr = loopErr
	c.errMu.Unlock()

	// Fail everything in flight, then signal termination.
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- rpcResult{err: fmt.Errorf("%w: %v", ErrClosed, loopErr)}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	close(c.events)
	close(c.done)
}

// Call issues one protocol request and waits for its response.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.pendingMu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan rpcResult, 1)
	c.pending[id] = ch
	c.pendingMu.Unlock()

	req := struct {
		ID     int64  `json:"id"`
		Method string `json:"method"`
		Params any    `json:"params,omitempty"`
	}{ID: id, Method: method, Params: params}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	c.writeMu.Lock()
	err = c.ws.Write(ctx, websocket.MessageText, body)
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("%w: write: %v", ErrClosed, err)
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}
