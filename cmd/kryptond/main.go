// standalone daemon wiring the facade to a config file and a development
// platform shim, in the style of client2/cmd/kpclientd.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"

	"github.com/Pakkapon0000/vpn-libraries/blindsign"
	"github.com/Pakkapon0000/vpn-libraries/config"
	"github.com/Pakkapon0000/vpn-libraries/datapath"
	"github.com/Pakkapon0000/vpn-libraries/httpfetcher"
	"github.com/Pakkapon0000/vpn-libraries/klog"
	"github.com/Pakkapon0000/vpn-libraries/krypton"
	"github.com/Pakkapon0000/vpn-libraries/looper"
	"github.com/Pakkapon0000/vpn-libraries/netmonitor"
	"github.com/Pakkapon0000/vpn-libraries/oauthprovider"
)

func main() {
	var configFile, oauthToken string
	flag.StringVar(&configFile, "c", "", "configuration file")
	flag.StringVar(&oauthToken, "token", "", "static OAuth token (dev only; real embedders refresh out of band)")
	version := flag.Bool("v", false, "Get version info.")
	flag.Parse()

	if *version {
		fmt.Printf("version is %s\n", versioninfo.Short())
		return
	}
	if configFile == "" {
		fatalf("kryptond: -c configuration file is required")
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		fatalf("kryptond: %v", err)
	}

	backend := klog.NewBackend(os.Stderr, cfg.Logging.Level)
	lg := backend.GetLogger("kryptond")

	loop := &looper.Looper{}

	deps := krypton.Deps{
		VPN:        &loopbackVPN{log: backend.GetLogger("loopback_vpn")},
		NetMonitor: &staticNetMonitor{info: netmonitor.Info{NetworkID: 1, NetworkType: netmonitor.Wifi}},
		Datapath:   datapath.NewFake(),
		Fetcher:    httpfetcher.New(30 * time.Second),
		OAuth:      oauthprovider.Static(oauthToken),
		Signer:     blindsign.NewFake(),
	}

	facade := krypton.New(loop, lg, cfg, deps, &loggingNotification{log: backend.GetLogger("notify")})

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)

	facade.Start()

	<-haltCh
	lg.Info("shutting down")
	facade.Stop()
	loop.Halt()
}
