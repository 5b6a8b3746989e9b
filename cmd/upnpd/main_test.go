package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/upnpcore"
)

func TestServeCmdRegistersAndAdvertises(t *testing.T) {
	c, err := upnpcore.Init("", 0)
	require.NoError(t, err)
	defer c.Finish()

	dir := t.TempDir()
	descPath := filepath.Join(dir, "description.xml")
	require.NoError(t, os.WriteFile(descPath, []byte("<root/>"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	cmd := &serveCmd{
		Description: descPath,
		DescPath:    "/description.xml",
		ServiceID:   "urn:upnp-org:serviceId:Test",
		ControlURL:  "/control",
		EventSubURL: "/event",
		DeviceType:  "urn:schemas-upnp-org:device:Basic:1",
		MaxAge:      100,
	}
	assert.NoError(t, cmd.Run(c, ctx))
}

func TestSearchCmdTimesOut(t *testing.T) {
	c, err := upnpcore.Init("", 0)
	require.NoError(t, err)
	defer c.Finish()

	cmd := &searchCmd{Target: "ssdp:all", MX: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, cmd.Run(c, ctx))
}
