// cmd/chatsync/main.go
// Headless chat sync client: connects to the push channel, keeps the
// local conversation state reconciled, and serves it over a local HTTP
// surface for UI processes.

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/danupratama/chatsync/internal/actions"
	"github.com/danupratama/chatsync/internal/chat"
	"github.com/danupratama/chatsync/internal/config"
	"github.com/danupratama/chatsync/internal/history"
	"github.com/danupratama/chatsync/internal/ops"
	"github.com/danupratama/chatsync/internal/session"
	"github.com/danupratama/chatsync/internal/transport"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	log.Println("Starting chatsync client")

	// 1. Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found (%v), using environment variables", err)
	}

	// 2. Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 3. Resolve the local user identity
	userID := cfg.UserID
	if userID == "" {
		var err error
		userID, err = session.UserIDFromToken(cfg.Token)
		if err != nil {
			log.Fatalf("Cannot determine local user: %v", err)
		}
	}
	log.Printf("Local user: %s", userID)

	// 4. Build the reconciliation core
	reconciler := chat.NewReconciler(userID)
	reconciler.SetPendingWindow(cfg.PendingWindow)
	historyClient := history.NewClient(cfg.ServerURL, cfg.Token, userID, cfg.RequestTimeout)
	actionsClient := actions.NewClient(cfg.ServerURL, cfg.Token, reconciler, cfg.RequestTimeout)

	// 5. Connect the push channel
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	socket, err := transport.Dial(ctx, cfg.SocketURL, cfg.Token, reconciler)
	if err != nil {
		log.Fatalf("Push channel connect failed: %v", err)
	}
	defer socket.Close()
	log.Printf("Connected to push channel at %s", cfg.SocketURL)

	// 6. Serve the local ops surface
	router := mux.NewRouter()
	ops.RegisterRoutes(router, ops.NewHandler(reconciler, historyClient, actionsClient))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.OpsPort),
		Handler: router,
	}

	go func() {
		log.Printf("Ops surface listening on :%s", cfg.OpsPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ops server failed: %v", err)
		}
	}()

	// 7. Wait for shutdown or connection loss
	select {
	case <-ctx.Done():
		log.Println("Shutting down")
	case <-socket.Done():
		log.Println("Push channel closed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Ops server shutdown: %v", err)
	}
}
