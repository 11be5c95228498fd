package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deal_guardian/internal/models"
	"deal_guardian/internal/modules/config"
	healthsvc "deal_guardian/internal/modules/health/service"
	"deal_guardian/internal/quotecache"
	"deal_guardian/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// TickSink — куда клиент складывает тики; реализует его кэш котировок.
type TickSink interface {
	UpdatePrice(reqID int64, field quotecache.Field, value float64)
	UpdateSize(reqID int64, field quotecache.Field, value float64)
	UpdateGreeks(reqID int64, iv, delta, gamma, vega, theta float64)
	ResubscribeAll() error
}

// Client — websocket-клиент маркет-дата гейтвея. Протокол гейтвея для
// нас непрозрачный JSON: op-фреймы наружу, тиковые фреймы внутрь.
type Client struct {
	cfg   *config.Config
	state *healthsvc.State

	wsDialer *websocket.Dialer
	sink     TickSink

	mu   sync.Mutex // пишущая сторона conn
	conn *websocket.Conn
}

func NewClient(cfg *config.Config, state *healthsvc.State) *Client {
	return &Client{
		cfg:      cfg,
		state:    state,
		wsDialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Bind присоединяет кэш после конструирования: клиент нужен кэшу как
// Feed, кэш клиенту как TickSink, разрываем цикл здесь.
func (c *Client) Bind(sink TickSink) { c.sink = sink }

// Subscribe реализует quotecache.Feed.
func (c *Client) Subscribe(reqID int64, contract models.Contract) error {
	return c.writeJSON(opFrame{Op: "subscribe", ReqID: reqID, Contract: &contract})
}

func (c *Client) Cancel(reqID int64) error {
	return c.writeJSON(opFrame{Op: "unsubscribe", ReqID: reqID})
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("feed: not connected")
	}

	b, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Start держит соединение вечно: реконнект с паузой, после реконнекта
// кэш переподписывает всё сам (новые req id, котировки не трогаем).
func (c *Client) Start(ctx context.Context) {
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := c.wsDialer.DialContext(ctx, c.cfg.FeedURL, nil)
		if err != nil {
			logger.Error("feed: dial %s: %v", c.cfg.FeedURL, err)
			time.Sleep(time.Second)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.state.SetFeedConnected(true)
		logger.Info("feed: connected to %s", c.cfg.FeedURL)

		if !first {
			if err := c.sink.ResubscribeAll(); err != nil {
				logger.Error("feed: resubscribe after reconnect: %v", err)
			}
		}
		first = false

		// keepalive ping — иначе гейтвей рвёт тихое соединение
		stopPing := make(chan struct{})
		go func() {
			t := time.NewTicker(c.cfg.FeedPingInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-stopPing:
					return
				case <-t.C:
					_ = c.writeJSON(opFrame{Op: "ping"})
				}
			}
		}()

		c.readLoop(ctx, conn)

		close(stopPing)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.state.SetFeedConnected(false)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Error("feed: read: %v", err)
			return
		}

		var frame tickFrame
		if err := sonic.Unmarshal(msg, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "px":
			c.sink.UpdatePrice(frame.ReqID, quotecache.Field(frame.Field), frame.Value)
		case "sz":
			c.sink.UpdateSize(frame.ReqID, quotecache.Field(frame.Field), frame.Value)
		case "greeks":
			c.sink.UpdateGreeks(frame.ReqID, frame.IV, frame.Delta, frame.Gamma, frame.Vega, frame.Theta)
		default:
			continue
		}
		c.state.TouchTick(time.Now())
	}
}
