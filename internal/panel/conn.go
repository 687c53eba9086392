package panel

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxFrameBytes = 8 << 20 // 8 MB max inbound frame.
	writeTimeout  = 10 * time.Second
)

// FrameConn moves whole JSON messages over a panel connection.
type FrameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// lineConn frames messages as newline-delimited JSON over a stream socket.
type lineConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	writeMu sync.Mutex
}

// NewLineConn wraps a stream connection with newline framing.
func NewLineConn(conn net.Conn) FrameConn {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	return &lineConn{conn: conn, scanner: scanner}
}

func (c *lineConn) ReadFrame() ([]byte, error) {
	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, net.ErrClosed
}

func (c *lineConn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(append(data, '\n'))
	return err
}

func (c *lineConn) Close() error {
	return c.conn.Close()
}

// wsConn frames one message per websocket text frame.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWSConn wraps a websocket connection.
func NewWSConn(conn *websocket.Conn) FrameConn {
	conn.SetReadLimit(maxFrameBytes)
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
