package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/ssdp"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/upnpcore"
)

type cli struct {
	Iface string `short:"i" help:"Network interface to bind (name, address, or index); empty picks the default route's interface."`
	Port  int    `short:"p" default:"0" help:"TCP port to listen on; 0 picks an ephemeral port."`

	Serve serveCmd `cmd:"" help:"Host a device: serve a description document and advertise it over SSDP."`
	Search searchCmd `cmd:"" help:"Run a control point: send an SSDP M-SEARCH and print the replies."`
}

func main() {
	var params cli
	k := kong.Parse(&params, kong.Name("upnpd"), kong.Description("Minimal UPnP device host / control point driver."))
	c, err := upnpcore.Init(params.Iface, params.Port)
	if err != nil {
		k.FatalIfErrorf(fmt.Errorf("upnpcore.Init: %w", err))
	}
	defer c.Finish()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := k.Run(c, ctx); err != nil {
		k.FatalIfErrorf(err)
	}
}

// serveCmd hosts a root device described by Description at ControlURL/
// EventSubURL, serving static content out of WebRoot and advertising over
// SSDP until interrupted.
type serveCmd struct {
	Description  string `arg:"" help:"Path to the device description XML document."`
	DescPath     string `default:"/description.xml" help:"HTTP path the description document is served at."`
	ServiceID    string `default:"urn:upnp-org:serviceId:Sample" help:"serviceId advertised by the hosted service, if any."`
	ControlURL   string `default:"/control" help:"HTTP path SOAP actions are posted to."`
	EventSubURL  string `default:"/event" help:"HTTP path GENA SUBSCRIBE/UNSUBSCRIBE requests go to."`
	DeviceType   string `default:"urn:schemas-upnp-org:device:Basic:1" help:"Root device's deviceType, used in SSDP advertisements."`
	WebRoot      string `help:"Directory served as static content alongside the description document."`
	MaxAge       int    `default:"1800" help:"SSDP CACHE-CONTROL max-age, in seconds."`
}

func (s *serveCmd) Run(c *upnpcore.CoreContext, ctx context.Context) error {
	doc, err := os.ReadFile(s.Description)
	if err != nil {
		return fmt.Errorf("reading description document: %w", err)
	}

	descURL := fmt.Sprintf("http://%s:%d%s", c.GetServerIpAddress(), c.GetServerPort(), s.DescPath)
	handle, err := c.RegisterRootDevice2(doc, descURL, nil, nil)
	if err != nil {
		return fmt.Errorf("registering root device: %w", err)
	}
	defer c.UnRegisterRootDevice(handle)

	c.RegisterControlURL(handle, s.ServiceID, s.ControlURL)
	c.RegisterEventSubURL(handle, s.ServiceID, s.EventSubURL)

	if s.WebRoot != "" {
		c.SetWebServerRootDir(s.WebRoot)
		c.EnableWebserver(true)
	}

	if err := c.AdvertiseRootDevice(handle, s.DeviceType, []string{s.ServiceID}, descURL, s.MaxAge); err != nil {
		return fmt.Errorf("advertising root device: %w", err)
	}

	fmt.Printf("hosting %s at %s (handle %d)\n", s.DeviceType, descURL, handle)
	<-ctx.Done()
	return nil
}

// searchCmd runs a single control-point SEARCH and prints discovered
// devices as they're reported, until mx seconds have elapsed.
type searchCmd struct {
	Target string `default:"ssdp:all" help:"Search target (ST header)."`
	MX     int    `default:"3" help:"Maximum wait the search asks replying devices to randomize over, in seconds."`
}

func (s *searchCmd) Run(c *upnpcore.CoreContext, ctx context.Context) error {
	done := make(chan struct{})
	handle, err := c.RegisterClient(func(event int, data interface{}) {
		switch event {
		case ssdp.EventSearchResult:
			fmt.Printf("found: %v\n", data)
		case ssdp.EventSearchTimeout:
			close(done)
		}
	}, nil)
	if err != nil {
		return fmt.Errorf("registering control point: %w", err)
	}
	defer c.UnRegisterClient(handle)

	if err := c.SearchAsync(handle, s.MX, s.Target, nil); err != nil {
		return fmt.Errorf("search: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(time.Duration(s.MX+2) * time.Second):
	}
	return nil
}
