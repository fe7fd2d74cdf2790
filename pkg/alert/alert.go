//Package alert keeps the toasts shown to the user
package alert

import (
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"github.com/xds-dev/dashboard/pkg/util"
)

//Type of an alert
type Type string

const (
	Danger  Type = "danger"
	Warning Type = "warning"
	Info    Type = "info"
	Success Type = "success"

	//DefaultDismissTimeout in seconds
	DefaultDismissTimeout = 5
)

//Alert is one toast. DismissTimeout is in milliseconds once the alert is stored.
type Alert struct {
	ID             int    `json:"id"`
	Type           Type   `json:"type"`
	Msg            string `json:"msg"`
	Show           bool   `json:"show"`
	Dismissible    bool   `json:"dismissible"`
	DismissTimeout int    `json:"dismissTimeout"`
}

//Service stores alerts and publishes the whole list on every change
type Service struct {
	mu     sync.Mutex
	alerts []Alert
	uid    int
	timers map[int]*time.Timer

	policy  *bluemonday.Policy
	subject *util.Subject[[]Alert]
	log     *logrus.Entry

	//after schedules automatic deletions, replaced in tests
	after func(d time.Duration, f func()) *time.Timer
}

//NewService creates an empty alert store
func NewService(log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Globally()
	return &Service{
		timers:  make(map[int]*time.Timer),
		policy:  policy,
		subject: util.NewBehaviorSubject([]Alert{}),
		log:     log.WithField("component", "alert"),
		after:   time.AfterFunc,
	}
}

//Error adds a danger alert, closed after dismissSeconds when positive
func (s *Service) Error(msg string, dismissSeconds int) {
	s.Add(Alert{Type: Danger, Msg: msg, Dismissible: true, DismissTimeout: dismissSeconds})
}

//Warning adds a warning alert, closed after the default timeout when dismissible
func (s *Service) Warning(msg string, dismissible bool) {
	tmo := 0
	if dismissible {
		tmo = DefaultDismissTimeout
	}
	s.Add(Alert{Type: Warning, Msg: msg, Dismissible: true, DismissTimeout: tmo})
}

//Info adds an info alert closed after the default timeout
func (s *Service) Info(msg string) {
	s.Add(Alert{Type: Info, Msg: msg, Dismissible: true, DismissTimeout: DefaultDismissTimeout})
}

//Add stores al with a new id. al.DismissTimeout is read in seconds.
func (s *Service) Add(al Alert) Alert {
	tmo := al.DismissTimeout
	if tmo < 0 {
		tmo = 0
	}
	s.mu.Lock()
	stored := Alert{
		ID:             s.uid,
		Type:           al.Type,
		Msg:            s.policy.Sanitize(al.Msg),
		Show:           true,
		Dismissible:    true,
		DismissTimeout: tmo * 1000,
	}
	s.uid++
	s.alerts = append(s.alerts, stored)
	list := s.copyLocked()
	s.mu.Unlock()

	switch stored.Type {
	case Danger:
		s.log.Error(stored.Msg)
	case Warning:
		s.log.Warn(stored.Msg)
	default:
		s.log.Info(stored.Msg)
	}

	if tmo > 0 {
		id := stored.ID
		t := s.after(time.Duration(stored.DismissTimeout)*time.Millisecond, func() { s.Del(id) })
		s.mu.Lock()
		s.timers[id] = t
		s.mu.Unlock()
	}
	s.subject.Next(list)
	return stored
}

//Del removes the alert id, it returns false when the alert is unknown
func (s *Service) Del(id int) bool {
	s.mu.Lock()
	idx := -1
	for i, a := range s.alerts {
		if a.ID == id {
			idx = i
			break
		}
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	if idx == -1 {
		s.mu.Unlock()
		return false
	}
	s.alerts = append(s.alerts[:idx], s.alerts[idx+1:]...)
	list := s.copyLocked()
	s.mu.Unlock()

	s.subject.Next(list)
	return true
}

//List returns a copy of the stored alerts
func (s *Service) List() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

//Subscribe streams the alert list after every change
func (s *Service) Subscribe() (<-chan []Alert, func()) {
	return s.subject.Subscribe()
}

//Close cancels the pending automatic deletions
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) copyLocked() []Alert {
	return append([]Alert{}, s.alerts...)
}
