package genesys

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/NordCoder/ccwatch/internal/domain/provider"
)

// WSDialer opens the websocket stream behind a channel's connect URI.
type WSDialer struct {
	Log *zap.Logger
}

func (d *WSDialer) Dial(ctx context.Context, uri string) (provider.Stream, error) {
	conn, _, err := websocket.Dial(ctx, uri, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

// Read blocks for the next frame and decodes its envelope. A frame that is
// not valid JSON yields a zero Message, not an error; the consumer treats
// frames without topic and body as noise.
func (s *wsStream) Read(ctx context.Context) (provider.Message, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return provider.Message{}, err
	}
	var frame struct {
		TopicName string          `json:"topicName"`
		EventBody json.RawMessage `json:"eventBody"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return provider.Message{}, nil
	}
	return provider.Message{TopicName: frame.TopicName, EventBody: frame.EventBody}, nil
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
