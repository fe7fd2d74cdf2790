//Package sdks tracks the cross tool chains of the build server and the one selected by the user
package sdks

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/xds-dev/dashboard/pkg/util"
	"github.com/xds-dev/dashboard/pkg/xdsserver"
)

//Lister fetches the SDKs installed on the build server
type Lister interface {
	GetSdks(ctx context.Context) ([]xdsserver.SDK, error)
}

//Notifier shows errors to the user
type Notifier interface {
	Error(msg string, dismissSeconds int)
}

//Service keeps the SDK list and the current selection
type Service struct {
	server Lister
	alerts Notifier
	log    *logrus.Entry

	mu      sync.Mutex
	list    []xdsserver.SDK
	current *xdsserver.SDK

	subject *util.Subject[[]xdsserver.SDK]
}

func NewService(server Lister, alerts Notifier, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		server:  server,
		alerts:  alerts,
		log:     log.WithField("component", "sdks"),
		list:    []xdsserver.SDK{},
		subject: util.NewBehaviorSubject([]xdsserver.SDK{}),
	}
}

//Refresh reloads the list from the build server. A selection that disappeared is dropped.
func (s *Service) Refresh(ctx context.Context) error {
	list, err := s.server.GetSdks(ctx)
	if err != nil {
		if s.alerts != nil {
			s.alerts.Error("Cannot retrieve SDKs list: "+err.Error(), 0)
		}
		return err
	}
	s.mu.Lock()
	s.list = list
	if s.current != nil {
		if sdk, ok := s.findLocked(s.current.ID); ok {
			s.current = &sdk
		} else {
			s.log.Infof("selected SDK %s is gone", s.current.ID)
			s.current = nil
		}
	}
	out := append([]xdsserver.SDK{}, list...)
	s.mu.Unlock()
	s.subject.Next(out)
	return nil
}

//List returns a copy of the known SDKs
func (s *Service) List() []xdsserver.SDK {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]xdsserver.SDK{}, s.list...)
}

//Get returns the SDK id
func (s *Service) Get(id string) (xdsserver.SDK, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(id)
}

func (s *Service) findLocked(id string) (xdsserver.SDK, bool) {
	for _, sdk := range s.list {
		if sdk.ID == id {
			return sdk, true
		}
	}
	return xdsserver.SDK{}, false
}

//SetCurrent selects the SDK id, an empty id clears the selection
func (s *Service) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		s.current = nil
		return nil
	}
	sdk, ok := s.findLocked(id)
	if !ok {
		return fmt.Errorf("unknown SDK (id=%s)", id)
	}
	s.current = &sdk
	return nil
}

//Current returns the selected SDK
func (s *Service) Current() (xdsserver.SDK, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return xdsserver.SDK{}, false
	}
	return *s.current, true
}

//CurrentID returns the id of the selected SDK, empty when none
func (s *Service) CurrentID() string {
	if sdk, ok := s.Current(); ok {
		return sdk.ID
	}
	return ""
}

//Subscribe streams the SDK list after every refresh
func (s *Service) Subscribe() (<-chan []xdsserver.SDK, func()) {
	return s.subject.Subscribe()
}
