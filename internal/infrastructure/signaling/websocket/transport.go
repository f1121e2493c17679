package websocket

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/infrastructure/signal"
)

const (
	writeTimeout = 10 * time.Second
	// extra time granted to the relay on top of a subscribe timeout
	subscribeSlack = 5 * time.Second
)

// Transport talks to the relay server over one websocket. Requests are
// correlated with responses by id, so many may be in flight at once.
type Transport struct {
	conn   *websocket.Conn
	logger *zap.SugaredLogger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan signal.Response

	closed    chan struct{}
	closeOnce sync.Once
}

var _ ports.SignalingTransport = (*Transport)(nil)

// Dial connects to relayURL as participant.
func Dial(ctx context.Context, relayURL string, participant domain.ParticipantID, logger *zap.SugaredLogger) (*Transport, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("participant_id", string(participant))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	t := &Transport{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan signal.Response),
		closed:  make(chan struct{}),
	}
	go t.readLoop()

	logger.Infow("connected to signaling relay", "url", relayURL, "participant_id", participant)
	return t, nil
}

func (t *Transport) readLoop() {
	defer t.shutdown()
	for {
		var resp signal.Response
		if err := t.conn.ReadJSON(&resp); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warnw("relay connection lost", "error", err)
			}
			return
		}

		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		delete(t.pending, resp.ID)
		t.mu.Unlock()
		if !ok {
			t.logger.Debugw("dropping relay response without waiter", "id", resp.ID, "op", resp.Op)
			continue
		}
		ch <- resp
	}
}

func (t *Transport) shutdown() {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.conn.Close()
	})
}

func (t *Transport) roundTrip(ctx context.Context, req signal.Request) (signal.Response, error) {
	req.ID = uuid.NewString()
	ch := make(chan signal.Response, 1)

	t.mu.Lock()
	t.pending[req.ID] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
	}()

	t.writeMu.Lock()
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := t.conn.WriteJSON(req)
	t.writeMu.Unlock()
	if err != nil {
		return signal.Response{}, fmt.Errorf("failed to send relay request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Op == signal.OpError {
			return resp, signal.ResponseError(resp)
		}
		return resp, nil
	case <-ctx.Done():
		return signal.Response{}, ctx.Err()
	case <-t.closed:
		return signal.Response{}, domain.ErrConnectionClosed
	}
}

func (t *Transport) Publish(ctx context.Context, key domain.SignalKey, payload domain.SignalPayload) error {
	_, err := t.roundTrip(ctx, signal.Request{Op: signal.OpPublish, Key: key, Payload: &payload})
	return err
}

func (t *Transport) Subscribe(ctx context.Context, key domain.SignalKey, timeout time.Duration) (domain.SignalPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+subscribeSlack)
	defer cancel()

	resp, err := t.roundTrip(ctx, signal.Request{Op: signal.OpSubscribe, Key: key, TimeoutMS: timeout.Milliseconds()})
	if err != nil {
		return domain.SignalPayload{}, err
	}
	if resp.Payload == nil {
		return domain.SignalPayload{}, domain.ErrSignalNotFound
	}
	return *resp.Payload, nil
}

func (t *Transport) Delete(ctx context.Context, key domain.SignalKey) error {
	_, err := t.roundTrip(ctx, signal.Request{Op: signal.OpDelete, Key: key})
	return err
}

// Close sends a close frame and releases every pending request.
func (t *Transport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	t.shutdown()
	return nil
}
