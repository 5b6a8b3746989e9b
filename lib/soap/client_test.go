package soap_test

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/registry"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/soap"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/upnpcore"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/workerpool"
)

func startFakeDevice(t *testing.T, respond func(soapAction, body string) (status int, body2 string)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				_, _ = r.ReadString('\n') // request line

				var soapAction string
				var contentLength int
				for {
					h, err := r.ReadString('\n')
					if err != nil || h == "\r\n" {
						break
					}
					fmt.Sscanf(h, "SOAPACTION: %s", &soapAction)
					fmt.Sscanf(h, "Content-Length: %d", &contentLength)
					fmt.Sscanf(h, "CONTENT-LENGTH: %d", &contentLength)
				}
				buf := make([]byte, contentLength)
				_, _ = io.ReadFull(r, buf)

				status, respBody := respond(soapAction, string(buf))
				reason := "OK"
				if status == 500 {
					reason = "Internal Server Error"
				}
				fmt.Fprintf(c, "HTTP/1.1 %d %s\r\nContent-Length: %d\r\nContent-Type: text/xml\r\n\r\n%s",
					status, reason, len(respBody), respBody)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func newTestPool(t *testing.T) *workerpool.Pool {
	t.Helper()
	pool := workerpool.New(workerpool.DefaultConfig)
	ctx, cancel := context.WithCancel(context.Background())
	go pool.Serve(ctx)
	t.Cleanup(cancel)
	return pool
}

func TestSendActionReturnsActionResponse(t *testing.T) {
	addr := startFakeDevice(t, func(soapAction, body string) (int, string) {
		assert.Contains(t, soapAction, "SetVolume")
		env := soap.BuildActionResponse([]byte(`<u:SetVolumeResponse xmlns:u="urn:x"/>`))
		return 200, string(env)
	})

	reg := registry.New()
	c := soap.NewClient(reg, newTestPool(t))
	resp, err := c.SendAction(context.Background(), "http://"+addr+"/control", "urn:x:service:Volume:1", "SetVolume", "",
		[]byte(`<u:SetVolume xmlns:u="urn:x"><Volume>5</Volume></u:SetVolume>`))
	require.NoError(t, err)
	assert.Contains(t, string(resp), "SetVolumeResponse")
}

func TestSendActionSurfacesFault(t *testing.T) {
	addr := startFakeDevice(t, func(soapAction, body string) (int, string) {
		fault := soap.BuildFaultEnvelope(&upnpcore.Fault{ErrCode: 402, ErrString: "Invalid Args"})
		return 500, string(fault)
	})

	reg := registry.New()
	c := soap.NewClient(reg, newTestPool(t))
	_, err := c.SendAction(context.Background(), "http://"+addr+"/control", "urn:x:service:Volume:1", "SetVolume", "",
		[]byte(`<u:SetVolume xmlns:u="urn:x"/>`))
	assert.Error(t, err)
}

func TestGetServiceVarStatusReturnsValue(t *testing.T) {
	addr := startFakeDevice(t, func(soapAction, body string) (int, string) {
		return 200, string(soap.BuildQueryStateVariableResponse("5"))
	})

	reg := registry.New()
	c := soap.NewClient(reg, newTestPool(t))
	resp, err := c.GetServiceVarStatus(context.Background(), "http://"+addr+"/control", "Volume", "")
	require.NoError(t, err)
	assert.Contains(t, string(resp), "<return>5</return>")
}

func TestSendActionAsyncDeliversCallback(t *testing.T) {
	addr := startFakeDevice(t, func(soapAction, body string) (int, string) {
		return 200, string(soap.BuildActionResponse([]byte(`<u:SetVolumeResponse xmlns:u="urn:x"/>`)))
	})

	reg := registry.New()
	results := make(chan soap.ActionCompleteResult, 1)
	cpHandle, err := reg.RegisterClient(func(event int, data interface{}) {
		if event == soap.EventActionComplete {
			results <- data.(soap.ActionCompleteResult)
		}
	}, nil)
	require.NoError(t, err)

	c := soap.NewClient(reg, newTestPool(t))
	err = c.SendActionAsync(cpHandle, "http://"+addr+"/control", "urn:x:service:Volume:1", "SetVolume", "",
		[]byte(`<u:SetVolume xmlns:u="urn:x"/>`))
	require.NoError(t, err)

	select {
	case res := <-results:
		assert.NoError(t, res.Err)
		assert.Contains(t, string(res.Response), "SetVolumeResponse")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EventActionComplete")
	}
}
