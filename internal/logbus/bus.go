// Package logbus is the bot's logging context: an explicitly constructed
// bus handed to every component, never a process-global. Messages are kept
// in a ring buffer for late subscribers (the websocket stream replays it)
// and fanned out to live subscribers without blocking publishers.
package logbus

import (
	"sync"
	"time"
)

// Fields carries structured key/value pairs alongside a log line.
type Fields = map[string]any

type Message struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

type Bus struct {
	mu     sync.RWMutex
	buf    []Message
	cap    int
	subs   map[chan Message]struct{}
	closed bool
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	return &Bus{
		cap:  capacity,
		buf:  make([]Message, 0, capacity),
		subs: make(map[chan Message]struct{}),
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.buf = nil
}

func (b *Bus) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.buf))
	copy(out, b.buf)
	return out
}

func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.subs != nil {
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Publish(typ string, data any) {
	msg := Message{
		Type: typ,
		Time: time.Now().UnixMilli(),
		Data: data,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.buf) < b.cap {
		b.buf = append(b.buf, msg)
	} else if b.cap > 0 {
		copy(b.buf, b.buf[1:])
		b.buf[b.cap-1] = msg
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	b.mu.Unlock()
}

func (b *Bus) Log(level, message string, fields map[string]any) {
	b.Publish("log", LogData{Level: level, Msg: message, Fields: fields})
}

// Logger is a view of the bus with bound fields, so per-account context
// (accountName, orderNumber, ...) rides along on every line.
type Logger struct {
	bus    *Bus
	fields map[string]any
}

// With returns a Logger that attaches fields to every message it emits.
func (b *Bus) With(fields map[string]any) *Logger {
	return &Logger{bus: b, fields: fields}
}

// With returns a child Logger with additional bound fields.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{bus: l.bus, fields: merged}
}

func (l *Logger) log(level, msg string, fields map[string]any) {
	if l == nil || l.bus == nil {
		return
	}
	if len(l.fields) == 0 {
		l.bus.Log(level, msg, fields)
		return
	}
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	l.bus.Log(level, msg, merged)
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log("debug", msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log("info", msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log("warn", msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log("error", msg, fields) }
