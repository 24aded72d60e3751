package session

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"ashare-quote-core/internal/models"

	"github.com/gorilla/websocket"
)

// maxInboundMessageBytes caps a single inbound session message.
const maxInboundMessageBytes = 512 * 1024

// Transport is a duplex channel of JSON messages. The concrete wire
// (TCP, unix socket, websocket) is injected; framing is newline-delimited
// JSON for stream transports and one message per websocket frame.
type Transport interface {
	ReadMessage() (*models.Message, error)
	WriteMessage(msg *models.Message) error
	Close() error
	RemoteAddr() string
}

// connTransport frames newline-delimited JSON over a net.Conn.
type connTransport struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// NewConnTransport wraps a stream connection as a session transport.
func NewConnTransport(conn net.Conn) Transport {
	return &connTransport{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64*1024),
	}
}

func (t *connTransport) ReadMessage() (*models.Message, error) {
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var msg models.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (t *connTransport) WriteMessage(msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.conn.Write(append(data, '\n'))
	return err
}

func (t *connTransport) Close() error {
	return t.conn.Close()
}

func (t *connTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

// wsTransport carries one JSON message per websocket text frame.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWebsocketTransport wraps an upgraded websocket connection.
func NewWebsocketTransport(conn *websocket.Conn) Transport {
	conn.SetReadLimit(maxInboundMessageBytes)
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadMessage() (*models.Message, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (t *wsTransport) WriteMessage(msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
