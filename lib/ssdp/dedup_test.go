package ssdp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/ssdp"
)

func TestMemDedupMarksSecondOccurrence(t *testing.T) {
	d := ssdp.NewMemDedup(4)
	assert.False(t, d.Seen("ssdp:alive|uuid:abc"))
	assert.True(t, d.Seen("ssdp:alive|uuid:abc"))
	assert.False(t, d.Seen("ssdp:byebye|uuid:abc"))
}
