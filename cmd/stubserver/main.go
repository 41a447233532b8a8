package main

import (
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/config"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/stub"
)

// stubserver runs the in-memory reference backend: the REST API on one
// port and the websocket gateway on another, matching the endpoints the
// client containers consume.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	state := stub.NewState()
	hub := stub.NewHub(log)
	server := stub.NewServer(cfg.JWTSecret, state, hub, log)

	wsAddr := getenv("SHOPIN_STUB_WS_ADDR", ":3001")
	apiAddr := getenv("SHOPIN_STUB_API_ADDR", ":3000")

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		log.Info("websocket gateway listening", zap.String("addr", wsAddr))
		if err := http.ListenAndServe(wsAddr, mux); err != nil {
			log.Fatal("websocket gateway", zap.Error(err))
		}
	}()

	log.Info("api listening", zap.String("addr", apiAddr))
	if err := server.Listen(apiAddr); err != nil {
		log.Fatal("api server", zap.Error(err))
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
