package sit

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// session state machine:
// SessionStateConnecting
//
//	-> SessionStateActive
//	  -> SessionStateClosing
//	    -> SessionStateClosed (terminal)
type SessionState string

const (
	SessionStateConnecting SessionState = "Connecting"
	SessionStateActive     SessionState = "Active"
	SessionStateClosing    SessionState = "Closing"
	SessionStateClosed     SessionState = "Closed"
)

func (self SessionState) IsTerminal() bool {
	return self == SessionStateClosed
}

// Transport is the push handle for one connection. The websocket endpoint
// provides the production implementation; tests substitute an in-memory one.
type Transport interface {
	WriteText(message []byte, deadline time.Time) error
	Ping(deadline time.Time) error
	Close(code int, reason string, deadline time.Time) error
	IsOpen() bool
}

var errSessionClosed = errors.New("session closed")
var errSendBudgetExceeded = errors.New("send buffer full and send budget exceeded")

type ClientSessionSettings struct {
	SendBufferSize int
	// budget to hand a message to the session queue. A session that cannot
	// accept within this budget fails that message only and is left to the
	// liveness sweep
	SendTimeout  time.Duration
	WriteTimeout time.Duration
	CloseTimeout time.Duration
}

func DefaultClientSessionSettings() *ClientSessionSettings {
	return &ClientSessionSettings{
		SendBufferSize: 32,
		SendTimeout:    1 * time.Second,
		WriteTimeout:   5 * time.Second,
		CloseTimeout:   2 * time.Second,
	}
}

// ClientSession is one live connection: the per-kind registration table, the
// liveness ack, and the single writer feeding the transport in order.
type ClientSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	sessionId string
	transport Transport
	settings  *ClientSessionSettings

	// one independently swappable slot per frame kind
	registrations [frameKindCount]atomic.Pointer[SubscriptionRegistration]

	send chan []byte

	stateMutex sync.Mutex
	state      SessionState
	lastAck    time.Time
	onClose    func(session *ClientSession)
}

func NewClientSessionWithDefaults(ctx context.Context, transport Transport) *ClientSession {
	return NewClientSession(ctx, transport, DefaultClientSessionSettings())
}

func NewClientSession(ctx context.Context, transport Transport, settings *ClientSessionSettings) *ClientSession {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ClientSession{
		ctx:       cancelCtx,
		cancel:    cancel,
		sessionId: NewSessionId(),
		transport: transport,
		settings:  settings,
		send:      make(chan []byte, settings.SendBufferSize),
		state:     SessionStateConnecting,
		lastAck:   time.Now(),
	}
}

func (self *ClientSession) Id() string {
	return self.sessionId
}

func (self *ClientSession) State() SessionState {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.state
}

// activate makes the session visible to fan-out and starts the writer.
// called by the session manager on register, after the transport handshake,
// so fan-out never races partially constructed state.
func (self *ClientSession) activate(onClose func(session *ClientSession)) {
	self.stateMutex.Lock()
	if self.state != SessionStateConnecting {
		self.stateMutex.Unlock()
		return
	}
	self.state = SessionStateActive
	self.lastAck = time.Now()
	self.onClose = onClose
	self.stateMutex.Unlock()

	go self.run()
}

func (self *ClientSession) run() {
	defer self.close()

	for {
		select {
		case <-self.ctx.Done():
			return
		case message := <-self.send:
			deadline := time.Now().Add(self.settings.WriteTimeout)
			if err := self.transport.WriteText(message, deadline); err != nil {
				// a websocket deadline timeout cannot be recovered
				glog.Warningf("[cs]%s-> error = %s\n", shortId(self.sessionId), err)
				return
			}
			glog.V(2).Infof("[cs]%s->\n", shortId(self.sessionId))
		}
	}
}

// Enqueue hands one serialized message to the session writer, preserving
// enqueue order. A full buffer past the send budget fails only this message.
func (self *ClientSession) Enqueue(message []byte) error {
	select {
	case self.send <- message:
		return nil
	case <-self.ctx.Done():
		return errSessionClosed
	default:
	}
	select {
	case self.send <- message:
		return nil
	case <-self.ctx.Done():
		return errSessionClosed
	case <-time.After(self.settings.SendTimeout):
		return errSendBudgetExceeded
	}
}

func (self *ClientSession) registration(frameKind FrameKind) *SubscriptionRegistration {
	i := frameKind.index()
	if i < 0 {
		return nil
	}
	return self.registrations[i].Load()
}

func (self *ClientSession) registrationOrCreate(frameKind FrameKind) *SubscriptionRegistration {
	slot := &self.registrations[frameKind.index()]
	if registration := slot.Load(); registration != nil {
		return registration
	}
	registration := NewSubscriptionRegistration()
	if slot.CompareAndSwap(nil, registration) {
		return registration
	}
	return slot.Load()
}

func (self *ClientSession) Ack() {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	self.lastAck = time.Now()
}

func (self *ClientSession) LastAck() time.Time {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.lastAck
}

func (self *ClientSession) ping() error {
	return self.transport.Ping(time.Now().Add(self.settings.WriteTimeout))
}

// Close drives Active -> Closing -> Closed. Idempotent; registry removal
// happens exactly once via the onClose callback.
func (self *ClientSession) Close(code int, reason string) {
	var onClose func(session *ClientSession)
	proceed := false
	func() {
		self.stateMutex.Lock()
		defer self.stateMutex.Unlock()
		if self.state == SessionStateClosing || self.state == SessionStateClosed {
			return
		}
		self.state = SessionStateClosing
		onClose = self.onClose
		proceed = true
	}()
	if !proceed {
		return
	}

	self.cancel()
	self.transport.Close(code, reason, time.Now().Add(self.settings.CloseTimeout))

	func() {
		self.stateMutex.Lock()
		defer self.stateMutex.Unlock()
		self.state = SessionStateClosed
	}()

	if onClose != nil {
		onClose(self)
	}
}

func (self *ClientSession) close() {
	self.Close(websocket.CloseNormalClosure, "")
}

// inbound protocol:
// sit-events/{subscribe|unsubscribe}/{frame-kind}/v{version}/{serverId}/{dataId|+}
// one message per text frame, bounded length, no partial-parse tolerance.

const MaxInboundMessageLength = 132

var subscriptionMessageRe = regexp.MustCompile(
	`^sit-events/(subscribe|unsubscribe)/(servers|dispatch-posts|journey-details|journey-positions)/v1/([0-9a-fA-F-]{36})/(\+|[0-9a-fA-F-]{36})$`,
)

type subscriptionRequest struct {
	subscribe bool
	frameKind FrameKind
	serverId  string
	dataId    string
}

func parseSubscriptionMessage(message string) (*subscriptionRequest, error) {
	if MaxInboundMessageLength < len(message) {
		return nil, fmt.Errorf("message exceeds %d bytes", MaxInboundMessageLength)
	}
	groups := subscriptionMessageRe.FindStringSubmatch(message)
	if groups == nil {
		return nil, fmt.Errorf("malformed subscription message")
	}
	frameKind, err := ParseFrameKind(groups[2])
	if err != nil {
		return nil, err
	}
	serverId := groups[3]
	if err := ValidateServerId(serverId); err != nil {
		return nil, err
	}
	dataId := groups[4]
	if dataId != WildcardDataId {
		if err := ValidateDataId(dataId); err != nil {
			return nil, err
		}
	}
	return &subscriptionRequest{
		subscribe: groups[1] == "subscribe",
		frameKind: frameKind,
		serverId:  serverId,
		dataId:    dataId,
	}, nil
}
