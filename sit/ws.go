package sit

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type EndpointSettings struct {
	HandshakeTimeout time.Duration
	// the read deadline is refreshed at the top of each read and, because
	// control frames are handled inside ReadMessage without returning, also
	// from the ping/pong handlers. It only fires for a fully silent peer;
	// the liveness sweep stays the sole cancellation mechanism for
	// abandoned sessions
	ReadTimeout     time.Duration
	SessionSettings *ClientSessionSettings
}

func DefaultEndpointSettings() *EndpointSettings {
	return &EndpointSettings{
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      90 * time.Second,
		SessionSettings:  DefaultClientSessionSettings(),
	}
}

// Endpoint upgrades http requests to websocket sessions and runs the
// per-connection read loop.
type Endpoint struct {
	ctx      context.Context
	manager  *SessionManager
	sender   *InitialDataSender
	settings *EndpointSettings
	upgrader websocket.Upgrader
}

func NewEndpointWithDefaults(ctx context.Context, manager *SessionManager, sender *InitialDataSender) *Endpoint {
	return NewEndpoint(ctx, manager, sender, DefaultEndpointSettings())
}

func NewEndpoint(ctx context.Context, manager *SessionManager, sender *InitialDataSender, settings *EndpointSettings) *Endpoint {
	return &Endpoint{
		ctx:      ctx,
		manager:  manager,
		sender:   sender,
		settings: settings,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: settings.HandshakeTimeout,
		},
	}
}

func (self *Endpoint) Handle(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.V(2).Infof("[ws]upgrade error = %s\n", err)
		return
	}

	transport := newWsTransport(ws)
	session := NewClientSession(self.ctx, transport, self.settings.SessionSettings)

	ws.SetReadLimit(MaxInboundMessageLength)
	ws.SetPongHandler(func(string) error {
		// a client that only listens and pongs never returns from
		// ReadMessage, so the deadline must be refreshed here
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		session.Ack()
		return nil
	})
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		session.Ack()
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(self.settings.SessionSettings.WriteTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	// handshake complete. The session becomes visible to fan-out here,
	// not before
	self.manager.Register(session)

	go self.readLoop(session, ws)
}

func (self *Endpoint) readLoop(session *ClientSession, ws *websocket.Conn) {
	defer session.Close(websocket.CloseNormalClosure, "")

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.V(2).Infof("[ws]%s<- error = %s\n", shortId(session.Id()), err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			session.Ack()
			if err := self.handleMessage(session, string(message)); err != nil {
				glog.Infof("[ws]%s<- not acceptable = %s\n", shortId(session.Id()), err)
				session.Close(websocket.CloseUnsupportedData, "not acceptable")
				return
			}
		default:
			// the protocol is text only. No partial-parse tolerance
			glog.Infof("[ws]%s<- not acceptable message type %d\n", shortId(session.Id()), messageType)
			session.Close(websocket.CloseUnsupportedData, "not acceptable")
			return
		}
	}
}

// handleMessage handles one inbound text frame. Any message that is not a
// liveness probe or a valid subscribe/unsubscribe request is fatal for the
// session.
func (self *Endpoint) handleMessage(session *ClientSession, message string) error {
	if message == "ping" {
		// out-of-band liveness probe
		return session.Enqueue([]byte("pong"))
	}

	request, err := parseSubscriptionMessage(message)
	if err != nil {
		return err
	}

	registration := session.registrationOrCreate(request.frameKind)
	if request.subscribe {
		if registration.Subscribe(request.serverId, request.dataId) {
			self.sender.Send(session, request.frameKind, request.serverId, request.dataId)
		}
	} else {
		registration.Unsubscribe(request.serverId, request.dataId)
	}
	return nil
}

// wsTransport adapts a gorilla connection to the session transport.
// data writes are serialized by the session's single writer plus this
// mutex; control writes use WriteControl which is safe to run concurrently.
type wsTransport struct {
	mutex sync.Mutex
	ws    *websocket.Conn
	open  atomic.Bool
}

func newWsTransport(ws *websocket.Conn) *wsTransport {
	transport := &wsTransport{
		ws: ws,
	}
	transport.open.Store(true)
	closeHandler := ws.CloseHandler()
	ws.SetCloseHandler(func(code int, text string) error {
		transport.open.Store(false)
		return closeHandler(code, text)
	})
	return transport
}

func (self *wsTransport) WriteText(message []byte, deadline time.Time) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.ws.SetWriteDeadline(deadline)
	if err := self.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		self.open.Store(false)
		return err
	}
	return nil
}

func (self *wsTransport) Ping(deadline time.Time) error {
	if err := self.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		self.open.Store(false)
		return err
	}
	return nil
}

func (self *wsTransport) Close(code int, reason string, deadline time.Time) error {
	self.open.Store(false)
	self.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return self.ws.Close()
}

func (self *wsTransport) IsOpen() bool {
	return self.open.Load()
}
