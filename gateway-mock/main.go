package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cast"
)

const defaultPort = "8085"

// Environment:
//
//	GATEWAY_MOCK_PORT             listen port, 8085 by default
//	GATEWAY_MOCK_PROCESSING_RATE  share of create requests answered with 202, 0..1
//	GATEWAY_MOCK_NOTIFY_URL       webhook that receives notifications on status changes
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "gateway-mock")

	port := os.Getenv("GATEWAY_MOCK_PORT")
	if port == "" {
		port = defaultPort
	}
	processingRate := cast.ToFloat64(os.Getenv("GATEWAY_MOCK_PROCESSING_RATE"))

	server := newGatewayServer("http://localhost:"+port, os.Getenv("GATEWAY_MOCK_NOTIFY_URL"), processingRate, logger)

	logger.Info("Starting gateway mock", "port", port, "processingRate", processingRate)
	if err := http.ListenAndServe(":"+port, server.routes()); err != nil {
		logger.Error("Gateway mock stopped", "error", err)
		os.Exit(1)
	}
}
