// Package events provides a pub/sub stream of client session lifecycle events.
package events

import "time"

// EventType はイベントの種類
type EventType string

const (
	// セッションが最初の接続を始めた
	EventSessionStarted EventType = "session_started"
	// 接続を確立した（再接続を含む）
	EventConnected EventType = "connected"
	// 転送エラーで接続を捨てた
	EventReconnecting EventType = "reconnecting"
	// 全反復を終えた
	EventSessionFinished EventType = "session_finished"
	// 転送エラー以外で終了した
	EventSessionFailed EventType = "session_failed"
)

// Event はセッションのイベント
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ClientID  int       `json:"client_id"`
	Data      EventData `json:"data,omitempty"`
}

// EventData はイベントごとの付加情報
type EventData struct {
	Addr       string `json:"addr,omitempty"`
	Iteration  int    `json:"iteration,omitempty"`
	Reconnects int    `json:"reconnects,omitempty"`
	Error      string `json:"error,omitempty"`
}

func newEvent(t EventType, clientID int, data EventData) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		ClientID:  clientID,
		Data:      data,
	}
}

// NewSessionStartedEvent は開始イベントを作成する
func NewSessionStartedEvent(clientID int, addr string) Event {
	return newEvent(EventSessionStarted, clientID, EventData{Addr: addr})
}

// NewConnectedEvent は接続イベントを作成する
func NewConnectedEvent(clientID int, addr string, iteration int) Event {
	return newEvent(EventConnected, clientID, EventData{Addr: addr, Iteration: iteration})
}

// NewReconnectingEvent は再接続イベントを作成する
func NewReconnectingEvent(clientID int, iteration int, err error) Event {
	return newEvent(EventReconnecting, clientID, EventData{Iteration: iteration, Error: errString(err)})
}

// NewSessionFinishedEvent は終了イベントを作成する
func NewSessionFinishedEvent(clientID int, iterations, reconnects int) Event {
	return newEvent(EventSessionFinished, clientID, EventData{Iteration: iterations, Reconnects: reconnects})
}

// NewSessionFailedEvent は失敗イベントを作成する
func NewSessionFailedEvent(clientID int, iteration int, err error) Event {
	return newEvent(EventSessionFailed, clientID, EventData{Iteration: iteration, Error: errString(err)})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
