package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/badtuple/remits/internal/db"
	"github.com/badtuple/remits/internal/server"
)

func main() {
	dbPath := flag.String("db", "./remits-data", "path to the database directory")
	addr := flag.String("addr", "0.0.0.0:4242", "listen address")
	flag.Parse()

	store, err := db.Open(*dbPath)
	if err != nil {
		log.Fatalf("remits: open database at %s: %v", *dbPath, err)
	}

	srv, err := server.Listen(*addr, store)
	if err != nil {
		log.Fatalf("remits: listen on %s: %v", *addr, err)
	}

	fmt.Printf("remits: listening on %s (db=%s)\n", srv.Addr(), *dbPath)

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Serve() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-srvErr:
		if err != nil {
			log.Fatalf("remits: server error: %v", err)
		}
	case sig := <-stop:
		fmt.Printf("remits: received %s, shutting down\n", sig)
		if err := srv.Close(); err != nil {
			log.Fatalf("remits: shutdown error: %v", err)
		}
	}
}
