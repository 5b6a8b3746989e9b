package gena

import (
	"errors"
	"sync"
	"time"
)

// ActivityType is a GENA housekeeping event a sample driver or test can
// observe without hooking every ClientSubscription/ServiceSubscription
// callback individually.
type ActivityType int

const (
	ActivitySubscribed ActivityType = iota
	ActivityRenewed
	ActivityNotifySent
	ActivityNotifyFailed
	ActivityUnsubscribed
	ActivityAutoRenewFailed
	ActivityExpired
)

func (t ActivityType) String() string {
	switch t {
	case ActivitySubscribed:
		return "Subscribed"
	case ActivityRenewed:
		return "Renewed"
	case ActivityNotifySent:
		return "NotifySent"
	case ActivityNotifyFailed:
		return "NotifyFailed"
	case ActivityUnsubscribed:
		return "Unsubscribed"
	case ActivityAutoRenewFailed:
		return "AutoRenewFailed"
	case ActivityExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// activityBufferSize bounds a single subscriber's backlog before new
// activity is dropped rather than blocking the engine.
const activityBufferSize = 64

// Activity is one logged occurrence.
type Activity struct {
	ID   int
	Time time.Time
	Type ActivityType
	SID  string
	Data interface{}
}

// ActivityLog fans GENA housekeeping activity out to subscribers, the
// same channel-fanout shape events.Logger uses, specialized to GENA's own
// occurrence set instead of a generic bitmask event type.
type ActivityLog struct {
	subs   map[int]*ActivitySub
	nextID int
	mut    sync.Mutex
}

// ErrActivityLogClosed is returned by Poll once Unsubscribe has closed
// the channel.
var ErrActivityLogClosed = errors.New("gena: activity subscription closed")

// ErrActivityTimeout is returned by Poll when no activity arrives before
// the deadline.
var ErrActivityTimeout = errors.New("gena: activity poll timeout")

// NewActivityLog creates an empty log.
func NewActivityLog() *ActivityLog {
	return &ActivityLog{subs: make(map[int]*ActivitySub)}
}

// Log records one activity and fans it out to every current subscriber.
func (a *ActivityLog) Log(t ActivityType, sid string, data interface{}) {
	a.mut.Lock()
	defer a.mut.Unlock()
	ev := Activity{ID: a.nextID, Time: time.Now(), Type: t, SID: sid, Data: data}
	a.nextID++
	for _, s := range a.subs {
		select {
		case s.events <- ev:
		default:
			if debug {
				l.Debugln("gena: dropping activity for slow subscriber")
			}
		}
	}
}

// ActivitySub is one subscriber's view of the log.
type ActivitySub struct {
	id     int
	events chan Activity
}

// Subscribe registers a new subscriber.
func (a *ActivityLog) Subscribe() *ActivitySub {
	a.mut.Lock()
	defer a.mut.Unlock()
	s := &ActivitySub{id: a.nextID, events: make(chan Activity, activityBufferSize)}
	a.nextID++
	a.subs[s.id] = s
	return s
}

// Unsubscribe removes s; a subsequent Poll returns ErrActivityLogClosed.
func (a *ActivityLog) Unsubscribe(s *ActivitySub) {
	a.mut.Lock()
	defer a.mut.Unlock()
	delete(a.subs, s.id)
	close(s.events)
}

// Poll blocks until an activity arrives or timeout elapses.
func (s *ActivitySub) Poll(timeout time.Duration) (Activity, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return ev, ErrActivityLogClosed
		}
		return ev, nil
	case <-time.After(timeout):
		return Activity{}, ErrActivityTimeout
	}
}
