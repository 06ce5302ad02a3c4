package rqclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"rqbridge/logger"
)

// LiveClient is a push-based market data stream. One reader goroutine,
// started by Listen, delivers every message to the handler in order;
// Close shuts the socket and joins the reader before returning.
type LiveClient struct {
	conn    *websocket.Conn
	log     *logger.Log
	session string

	writeMu   sync.Mutex
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type subscribeMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// OpenLive dials the streaming endpoint, reusing the authenticated
// session token.
func (c *Client) OpenLive(ctx context.Context) (*LiveClient, error) {
	header := http.Header{}
	if token := c.sessionToken(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.liveURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	if resp != nil {
		resp.Body.Close()
	}

	lc := &LiveClient{
		conn:    conn,
		log:     c.log,
		session: uuid.NewString(),
	}

	c.log.WithComponent("rqclient").WithFields(logger.Fields{
		"session": lc.session,
		"url":     c.liveURL,
	}).Info("live stream connected")

	return lc, nil
}

// Subscribe requests pushes for one provider channel id. Safe to call
// concurrently with the reader.
func (lc *LiveClient) Subscribe(channel string) error {
	lc.writeMu.Lock()
	defer lc.writeMu.Unlock()
	return lc.conn.WriteJSON(subscribeMessage{Action: "subscribe", Channel: channel})
}

// Listen starts the single reader goroutine. The handler runs serially
// on that goroutine for every push until the stream closes.
func (lc *LiveClient) Listen(handler func(TickPush)) {
	lc.wg.Add(1)
	go func() {
		defer lc.wg.Done()

		log := lc.log.WithComponent("rqclient").WithFields(logger.Fields{
			"session": lc.session,
			"worker":  "live_listener",
		})
		log.Info("live listener started")

		for {
			_, data, err := lc.conn.ReadMessage()
			if err != nil {
				if isExpectedClose(err) {
					log.Info("live stream closed")
				} else {
					log.WithError(err).Warn("live stream read failed")
				}
				return
			}

			logger.IncrementTickPush(len(data))

			var push TickPush
			if err := decodePush(data, &push); err != nil {
				log.WithError(err).Warn("failed to decode push message")
				continue
			}

			handler(push)
		}
	}()
}

// Close shuts the transport down and waits for the reader goroutine to
// terminate, guaranteeing no handler invocation afterwards.
func (lc *LiveClient) Close() error {
	var err error
	lc.closeOnce.Do(func() {
		lc.writeMu.Lock()
		// Best effort close handshake; the hard close below is what the
		// reader actually relies on.
		_ = lc.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		lc.writeMu.Unlock()

		err = lc.conn.Close()
		lc.wg.Wait()

		lc.log.WithComponent("rqclient").WithFields(logger.Fields{
			"session": lc.session,
		}).Info("live stream closed and listener joined")
	})
	return err
}

func decodePush(data []byte, push *TickPush) error {
	return json.Unmarshal(data, push)
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}
