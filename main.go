package main

import (
	"bufio"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pollchat/auth"
	"pollchat/chat"
	"pollchat/config"
	"pollchat/db"
	"pollchat/server"
)

const controlSocketPath = "/tmp/pollchat.sock"

func main() {
	cfg := config.Load()

	authStore := auth.NewStore()
	registry := chat.NewRegistry(cfg.MainChatName, cfg.BatchSize)

	var store *db.DB
	if cfg.DBPath != "" {
		var err error
		store, err = db.Open(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to open snapshot store: %v", err)
		}
		defer store.Close()

		users, chats, err := store.LoadSnapshot()
		if err != nil {
			log.Fatalf("Failed to load snapshot: %v", err)
		}
		authStore.Restore(users)
		registry.Restore(chats)
		log.Printf("Restored %d users and %d chats from %s", len(users), len(chats), cfg.DBPath)
	}

	srvConfig := &server.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		MaxBodySize:  cfg.MaxBodySize,
	}

	srv := server.New(authStore, registry, srvConfig)

	// Control socket for management commands.
	go startControlSocket(srv, authStore, registry, store)

	// Graceful shutdown: snapshot state, then close connections.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		saveSnapshot(authStore, registry, store)
		srv.Shutdown()
		os.Remove(controlSocketPath)
		os.Exit(0)
	}()

	log.Fatal(srv.Start())
}

func saveSnapshot(authStore *auth.Store, registry *chat.Registry, store *db.DB) {
	if store == nil {
		return
	}
	if err := store.SaveSnapshot(authStore.Export(), registry.Export()); err != nil {
		log.Printf("Failed to save snapshot: %v", err)
	} else {
		log.Printf("Snapshot saved")
	}
}

func startControlSocket(srv *server.Server, authStore *auth.Store, registry *chat.Registry, store *db.DB) {
	os.Remove(controlSocketPath)

	listener, err := net.Listen("unix", controlSocketPath)
	if err != nil {
		log.Printf("Failed to create control socket: %v", err)
		return
	}
	defer listener.Close()
	defer os.Remove(controlSocketPath)

	log.Printf("Control socket listening on %s", controlSocketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}

		go handleControlCommand(srv, authStore, registry, store, conn)
	}
}

func handleControlCommand(srv *server.Server, authStore *auth.Store, registry *chat.Registry, store *db.DB, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}

	switch strings.TrimSpace(line) {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))

	case "save":
		if store == nil {
			conn.Write([]byte("ERROR|Snapshot store disabled\n"))
			return
		}
		saveSnapshot(authStore, registry, store)
		conn.Write([]byte("OK|Snapshot saved\n"))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		// Give time for the response to be sent.
		time.Sleep(100 * time.Millisecond)

		saveSnapshot(authStore, registry, store)
		srv.Shutdown()
		os.Remove(controlSocketPath)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
