package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mogumoto/diaryd/internal/bus"
	"github.com/mogumoto/diaryd/internal/chat"
	"github.com/mogumoto/diaryd/internal/config"
)

const oneBotChannelName = "onebot"

// oneBotEvent is the subset of OneBot v11 event fields we consume.
type oneBotEvent struct {
	PostType    string `json:"post_type"`
	MetaType    string `json:"meta_event_type,omitempty"`
	MessageType string `json:"message_type,omitempty"`
	SelfID      int64  `json:"self_id,omitempty"`
	UserID      int64  `json:"user_id,omitempty"`
	GroupID     int64  `json:"group_id,omitempty"`
	RawMessage  string `json:"raw_message,omitempty"`
	Time        int64  `json:"time,omitempty"`
	Sender      struct {
		Nickname string `json:"nickname"`
		Card     string `json:"card"`
	} `json:"sender,omitempty"`
}

type oneBotAction struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// OneBotChannel talks OneBot v11 over a forward websocket to a Napcat
// (or compatible) gateway.
type OneBotChannel struct {
	BaseChannel
	wsURL       string
	accessToken string

	mu     sync.Mutex
	conn   *websocket.Conn
	selfID int64
	cancel context.CancelFunc
}

func NewOneBotChannel(cfg config.OneBotConfig, b *bus.MessageBus) (*OneBotChannel, error) {
	if cfg.WSURL == "" {
		return nil, fmt.Errorf("onebot ws_url is required")
	}
	return &OneBotChannel{
		BaseChannel: NewBaseChannel(oneBotChannelName, b, nil),
		wsURL:       cfg.WSURL,
		accessToken: cfg.AccessToken,
	}, nil
}

func (c *OneBotChannel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLoop(runCtx)
	return nil
}

func (c *OneBotChannel) readLoop(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			log.Printf("[onebot] dial %s failed: %v (retrying in %s)", c.wsURL, err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		log.Printf("[onebot] connected to %s", c.wsURL)
		backoff = time.Second
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		c.consume(ctx, conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.CloseNow()
	}
}

func (c *OneBotChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	opts := &websocket.DialOptions{}
	if c.accessToken != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.accessToken}}
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.wsURL, opts)
	return conn, err
}

func (c *OneBotChannel) consume(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[onebot] read error: %v (reconnecting)", err)
			}
			return
		}

		var ev oneBotEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		c.handleEvent(ev)
	}
}

func (c *OneBotChannel) handleEvent(ev oneBotEvent) {
	if ev.SelfID != 0 {
		c.mu.Lock()
		c.selfID = ev.SelfID
		c.mu.Unlock()
	}

	// message is inbound traffic; message_sent mirrors what the bot
	// account itself said, which the diary also wants.
	if ev.PostType != "message" && ev.PostType != "message_sent" {
		return
	}
	if ev.RawMessage == "" {
		return
	}

	var conv chat.ConversationRef
	switch ev.MessageType {
	case "group":
		conv = chat.GroupRef(strconv.FormatInt(ev.GroupID, 10))
	case "private":
		conv = chat.PrivateRef(strconv.FormatInt(ev.UserID, 10))
	default:
		return
	}

	senderID := strconv.FormatInt(ev.UserID, 10)
	if !c.IsAllowed(senderID) {
		return
	}

	nickname := ev.Sender.Card
	if nickname == "" {
		nickname = ev.Sender.Nickname
	}

	when := time.Now()
	if ev.Time > 0 {
		when = time.Unix(ev.Time, 0)
	}

	c.bus.Inbound <- bus.InboundMessage{
		Channel:   oneBotChannelName,
		Conv:      conv,
		SenderID:  senderID,
		Nickname:  nickname,
		FromBot:   ev.PostType == "message_sent" || ev.UserID == c.currentSelfID(),
		Content:   ev.RawMessage,
		Timestamp: when,
	}
}

func (c *OneBotChannel) currentSelfID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// buildAction maps an outbound message to the OneBot send action.
// group_id/user_id are numbers on the wire; Napcat tolerates strings
// but stricter OneBot v11 implementations reject them.
func buildAction(msg bus.OutboundMessage) (oneBotAction, error) {
	target, err := strconv.ParseInt(msg.Conv.ID, 10, 64)
	if err != nil {
		return oneBotAction{}, fmt.Errorf("non-numeric conversation id %q: %w", msg.Conv.ID, err)
	}

	params := map[string]any{"message": msg.Content}
	switch msg.Conv.Kind {
	case chat.KindGroup:
		params["group_id"] = target
		return oneBotAction{Action: "send_group_msg", Params: params}, nil
	case chat.KindPrivate:
		params["user_id"] = target
		return oneBotAction{Action: "send_private_msg", Params: params}, nil
	default:
		return oneBotAction{}, fmt.Errorf("cannot send to conversation %q", msg.Conv)
	}
}

func (c *OneBotChannel) Send(msg bus.OutboundMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("onebot connection not established")
	}

	action, err := buildAction(msg)
	if err != nil {
		return err
	}
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send %s: %w", action.Action, err)
	}
	return nil
}

func (c *OneBotChannel) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.CloseNow()
	}
	log.Printf("[onebot] stopped")
	return nil
}
