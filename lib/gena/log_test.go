package gena_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/gena"
)

func TestActivityLogFansOutToSubscribers(t *testing.T) {
	log := gena.NewActivityLog()
	sub := log.Subscribe()

	log.Log(gena.ActivitySubscribed, "uuid:abc", nil)

	ev, err := sub.Poll(time.Second)
	assert.NoError(t, err)
	assert.Equal(t, gena.ActivitySubscribed, ev.Type)
	assert.Equal(t, "uuid:abc", ev.SID)
}

func TestActivityLogPollTimesOutWithNoActivity(t *testing.T) {
	log := gena.NewActivityLog()
	sub := log.Subscribe()

	_, err := sub.Poll(10 * time.Millisecond)
	assert.ErrorIs(t, err, gena.ErrActivityTimeout)
}

func TestActivityLogUnsubscribeClosesChannel(t *testing.T) {
	log := gena.NewActivityLog()
	sub := log.Subscribe()
	log.Unsubscribe(sub)

	_, err := sub.Poll(time.Second)
	assert.ErrorIs(t, err, gena.ErrActivityLogClosed)
}

func TestActivityTypeStringsAreDistinct(t *testing.T) {
	seen := map[string]bool{}
	types := []gena.ActivityType{
		gena.ActivitySubscribed, gena.ActivityRenewed, gena.ActivityNotifySent,
		gena.ActivityNotifyFailed, gena.ActivityUnsubscribed, gena.ActivityAutoRenewFailed,
		gena.ActivityExpired,
	}
	for _, typ := range types {
		s := typ.String()
		assert.False(t, seen[s], "duplicate ActivityType string %q", s)
		seen[s] = true
		assert.NotEqual(t, "Unknown", s)
	}
}
