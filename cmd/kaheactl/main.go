package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/kahea"
	"github.com/lanikai/kahea/internal/logging"
)

var log = logging.DefaultLogger.WithTag("kaheactl")

// Populated via -ldflags="-X ...". See Makefile.
var GitRevisionId string

// version displays information and exits successfully (GNU convention)
func version() {
	fmt.Println("kaheactl", GitRevisionId)
	fmt.Println("Copyright 2019 Lanikai Labs LLC. All rights reserved.")
	fmt.Println("Visit https://lanikailabs.com for more information")
}

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	config, err := kahea.LoadConfig(flagConfig)
	if err != nil {
		log.Fatalf("Read configuration: %v", err)
	}
	if flagServer != "" {
		config.Transport.Servers = []string{flagServer}
	}

	client, err := kahea.New(config)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()

	client.OnIncomingSession = func(s *kahea.Session) {
		fmt.Printf("Incoming call from %s (session %s)\n", s.Remote(), s.ID())
		if !flagAutoAnswer {
			return
		}
		if err := s.Answer(ctx); err != nil {
			log.Warn("Answer: %v", err)
		}
	}
	client.OnReconnectAttempt = func(attempt, remaining int, err error) {
		fmt.Printf("Connection attempt %d failed (%d remaining): %v\n", attempt, remaining, err)
	}
	client.OnConnectionFailed = func(err error) {
		log.Fatalf("Connection lost for good: %v", err)
	}

	if err := client.Connect(ctx); err != nil {
		log.Fatalf("Connect: %v", err)
	}
	fmt.Printf("Registered as %s\n", config.Account.URI)

	if flagDial != "" {
		session, err := client.Invite(ctx, flagDial, nil)
		if err != nil {
			log.Fatalf("Dial %s: %v", flagDial, err)
		}
		fmt.Printf("Dialing %s (session %s)\n", flagDial, session.ID())
	}

	// Run until interrupted
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	fmt.Println("Disconnecting...")
	if err := client.Disconnect(ctx); err != nil {
		log.Warn("Disconnect: %v", err)
	}
}
