package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/xds-dev/dashboard/pkg/util"
)

const writeWait = 10 * time.Second

//uiSocket is one web application connection, writes are serialised
type uiSocket struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (s *uiSocket) send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAllLocked([]Event{ev})
}

func (s *uiSocket) writeAllLocked(evs []Event) error {
	for _, ev := range evs {
		s.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.ws.WriteJSON(ev); err != nil {
			return err
		}
	}
	return nil
}

//hub tracks the long lived UI sockets, they get removed when the remote closes
type hub struct {
	mu    sync.RWMutex
	socks map[string]*uiSocket
	log   *logrus.Entry
}

func newHub(log *logrus.Entry) *hub {
	return &hub{socks: make(map[string]*uiSocket), log: log}
}

func (h *hub) add(s *uiSocket) string {
	id := util.NewRandomUUID().String()
	h.mu.Lock()
	h.socks[id] = s
	h.mu.Unlock()
	return id
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	s, ok := h.socks[id]
	delete(h.socks, id)
	h.mu.Unlock()
	if ok {
		s.ws.Close()
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.socks)
}

func (h *hub) broadcast(ev Event) {
	h.mu.RLock()
	targets := make(map[string]*uiSocket, len(h.socks))
	for id, s := range h.socks {
		targets[id] = s
	}
	h.mu.RUnlock()

	for id, s := range targets {
		if err := s.send(ev); err != nil {
			h.log.Debugf("dropping UI socket %s: %v", id, err)
			h.remove(id)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	socks := h.socks
	h.socks = make(map[string]*uiSocket)
	h.mu.Unlock()
	for _, s := range socks {
		s.mu.Lock()
		s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		s.mu.Unlock()
		s.ws.Close()
	}
}

func (a *API) getEventsWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Errorf("Error upgrading websocket connection %s", err.Error())
		return
	}
	//broadcasts wait until the initial snapshot is written
	sock := &uiSocket{ws: ws}
	sock.mu.Lock()
	id := a.hub.add(sock)
	err = sock.writeAllLocked(a.snapshot())
	sock.mu.Unlock()
	if err != nil {
		a.hub.remove(id)
		return
	}
	go a.readLoop(id, ws)
}

func (a *API) snapshot() []Event {
	evs := []Event{}
	if a.svc.Config != nil {
		evs = append(evs, Event{Type: EventConfig, Data: a.svc.Config.Config()})
	}
	if a.svc.Alerts != nil {
		evs = append(evs, Event{Type: EventAlerts, Data: a.svc.Alerts.List()})
	}
	if a.svc.Sdks != nil {
		evs = append(evs, Event{Type: EventSdks, Data: a.svc.Sdks.List()})
	}
	st := a.currentStatus()
	evs = append(evs,
		Event{Type: EventServerStatus, Data: st.Server},
		Event{Type: EventAgentStatus, Data: st.Agent},
	)
	return evs
}

//readLoop only watches for the remote closing, the UI does not send messages
func (a *API) readLoop(id string, ws *websocket.Conn) {
	defer a.hub.remove(id)
	for {
		if _, _, err := ws.NextReader(); err != nil {
			return
		}
	}
}

//Start subscribes to the dashboard changes and pushes them to the UI sockets
//until ctx is done
func (a *API) Start(ctx context.Context) {
	forward := func(subscribe func() (func(), func(context.Context))) {
		cancel, loop := subscribe()
		go func() {
			defer cancel()
			loop(ctx)
		}()
	}

	if a.svc.Config != nil {
		forward(pipe(a.svc.Config.Subscribe, EventConfig, a.hub))
	}
	if a.svc.Alerts != nil {
		forward(pipe(a.svc.Alerts.Subscribe, EventAlerts, a.hub))
	}
	if a.svc.Sdks != nil {
		forward(pipe(a.svc.Sdks.Subscribe, EventSdks, a.hub))
	}
	if a.svc.Server != nil {
		forward(pipe(a.svc.Server.SubscribeStatus, EventServerStatus, a.hub))
		forward(pipe(a.svc.Server.SubscribeOutput, EventExecOutput, a.hub))
		forward(pipe(a.svc.Server.SubscribeExit, EventExecExit, a.hub))
	}
	if a.svc.Agent != nil {
		forward(pipe(a.svc.Agent.SubscribeStatus, EventAgentStatus, a.hub))
	}
}

//pipe subscribes to a stream and returns its release function and a loop
//broadcasting every value as an event of type typ
func pipe[T any](subscribe func() (<-chan T, func()), typ string, h *hub) func() (func(), func(context.Context)) {
	return func() (func(), func(context.Context)) {
		ch, cancel := subscribe()
		return cancel, func(ctx context.Context) {
			for {
				select {
				case <-ctx.Done():
					return
				case v, ok := <-ch:
					if !ok {
						return
					}
					h.broadcast(Event{Type: typ, Data: v})
				}
			}
		}
	}
}
