// Command lansend is a thin shell over the lansend façade: serve,
// discover, or send, nothing more elaborate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kaelbridge/lansend"
	"github.com/kaelbridge/lansend/pkg/config"
	"github.com/kaelbridge/lansend/pkg/logging"
	"github.com/kaelbridge/lansend/pkg/model"
	"github.com/kaelbridge/lansend/pkg/sender"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log := logging.New(logging.DefaultOptions())

	cfg, err := config.Load(log.WithField("component", "config"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	node, err := lansend.NewNode(cfg, log)
	if err != nil {
		log.Fatalf("build node: %v", err)
	}

	switch os.Args[1] {
	case "serve":
		runServe(node, cfg, log, os.Args[2:])
	case "discover":
		runDiscover(node, log, os.Args[2:])
	case "send":
		runSend(node, cfg, log, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`lansend - LocalSend v2 protocol implementation

USAGE:
    lansend serve
    lansend discover [-timeout 5s]
    lansend send -to TARGET file1 [file2 ...]

Environment:
    LANSEND_ALIAS          device alias
    LANSEND_PORT           listening port (default 53317)
    LANSEND_PROTOCOL       http or https (default https)
    LANSEND_DOWNLOAD_DIR   where received files land`)
}

func runServe(node *lansend.Node, cfg *config.Config, log *logrus.Logger, args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.StartDiscovery(ctx); err != nil {
		log.Fatalf("start discovery: %v", err)
	}
	defer node.StopDiscovery()

	r := node.Receiver()
	log.Infof("serving as %s on port %d (%s), saving to %s", cfg.Alias, cfg.Port, cfg.Protocol, cfg.DownloadDir)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	var serveErr error
	if cfg.Protocol == model.ProtocolHTTP {
		serveErr = r.ListenAndServe(ctx, addr)
	} else {
		serveErr = r.ListenAndServeTLS(ctx, addr)
	}
	if serveErr != nil {
		log.Fatalf("receiver: %v", serveErr)
	}
}

func runDiscover(node *lansend.Node, log *logrus.Logger, args []string) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	timeout := fs.Duration("timeout", 5*time.Second, "discovery window")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+time.Second)
	defer cancel()

	if err := node.StartDiscovery(ctx); err != nil {
		log.Fatalf("start discovery: %v", err)
	}
	defer node.StopDiscovery()

	peers, err := node.Discover(ctx, *timeout)
	if err != nil {
		log.Fatalf("discover: %v", err)
	}
	if len(peers) == 0 {
		fmt.Println("no peers found")
		return
	}
	for _, p := range peers {
		fmt.Printf("%-20s %-12s %s\n", p.DeviceInfo.Alias, p.DeviceInfo.Fingerprint[:12], p.Endpoint())
	}
}

func runSend(node *lansend.Node, cfg *config.Config, log *logrus.Logger, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.String("to", "", "target alias, fingerprint, or ip:port")
	fs.Parse(args)

	if *to == "" || fs.NArg() == 0 {
		fmt.Println("usage: lansend send -to TARGET file1 [file2 ...]")
		os.Exit(1)
	}

	items := make([]sender.Item, 0, fs.NArg())
	for _, path := range fs.Args() {
		items = append(items, sender.Item{Path: path})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.StartDiscovery(ctx); err != nil {
		log.Fatalf("start discovery: %v", err)
	}
	defer node.StopDiscovery()

	if _, err := node.Discover(ctx, 3*time.Second); err != nil {
		log.WithError(err).Warn("discovery sweep failed, trying resolve anyway")
	}

	machine, err := node.Send(ctx, *to, items)
	if err != nil {
		log.Fatalf("send: %v", err)
	}

	for {
		snap := machine.Snapshot()
		log.Infof("status: %s (%d/%d)", snap.Status, snap.Completed, snap.TotalFiles)
		if snap.Status.String() == "Completed" || snap.Status.String() == "Cancelled" {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}
}
