package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
)

// WSRequest describes a websocket tool invocation: connect to the target,
// send the initial frame, stream responses until the peer closes or the
// caller gives up.
type WSRequest struct {
	URL          string
	Header       http.Header
	InitialFrame []byte
}

// buildWebSocket converts the system base URL to a ws(s) target and encodes
// the merged arguments as the initial frame.
func buildWebSocket(endpoint catalog.Endpoint, system catalog.System, args Arguments) (*Request, error) {
	target := strings.TrimRight(system.BaseURL, "/")
	if endpoint.Path != "" {
		substituted, err := substitutePath(endpoint.Path, args.Path)
		if err != nil {
			return nil, err
		}
		resolved, err := containURL(system.BaseURL, substituted, args.Path)
		if err != nil {
			return nil, err
		}
		target = resolved
	}

	switch {
	case strings.HasPrefix(target, "https://"):
		target = "wss://" + strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		target = "ws://" + strings.TrimPrefix(target, "http://")
	}

	frame, err := json.Marshal(mergedArguments(args))
	if err != nil {
		return nil, fmt.Errorf("failed to encode initial frame: %w", err)
	}

	return &Request{
		Protocol: catalog.ProtocolWebSocket,
		URL:      target,
		Header:   http.Header{},
		WS: &WSRequest{
			URL:          target,
			Header:       http.Header{},
			InitialFrame: frame,
		},
	}, nil
}

// WSSession is a live websocket conversation. Close is idempotent and
// mandatory: conversation teardown and cancellation both funnel into it.
type WSSession struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// DialWS opens the session and sends the initial frame
func DialWS(ctx context.Context, req *WSRequest) (*WSSession, error) {
	header := req.Header
	if header == nil {
		header = http.Header{}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, req.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	session := &WSSession{conn: conn}
	if err := conn.WriteMessage(websocket.TextMessage, req.InitialFrame); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to send initial frame: %w", err)
	}

	return session, nil
}

// Stream reads frames until the peer closes, the context is done, or the
// deadline passes, returning everything received.
func (s *WSSession) Stream(ctx context.Context, deadline time.Duration) ([][]byte, error) {
	defer s.Close()

	if deadline > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-done:
		}
	}()

	var frames [][]byte
	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return frames, nil
			}
			if ctx.Err() != nil {
				return frames, ctx.Err()
			}
			if len(frames) > 0 {
				// Deadline after at least one frame: treat as end of stream.
				log.Debug().Err(err).Int("frames", len(frames)).Msg("Websocket stream ended")
				return frames, nil
			}
			return nil, fmt.Errorf("websocket read failed: %w", err)
		}
		frames = append(frames, frame)
	}
}

// Close tears the session down. Safe to call any number of times.
func (s *WSSession) Close() error {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
