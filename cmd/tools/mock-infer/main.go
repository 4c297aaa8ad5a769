// Command mock-infer runs a development inference server.
//
// It answers the same gRPC service as the real segmentation backend but
// labels points by height band instead of running a model, so the
// pipeline can be exercised without a GPU or checkpoint.
//
// Usage:
//
//	go run ./cmd/tools/mock-infer [flags]
//
// Flags:
//
//	-addr     Listen address (default: localhost:50071)
//	-classes  Number of height bands (default: 8)
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/cloudsplit/internal/config"
	"github.com/banshee-data/cloudsplit/internal/inference"
)

func main() {
	addr := flag.String("addr", config.DefaultInferenceAddr, "Listen address")
	classes := flag.Int("classes", inference.DefaultBandClasses, "Number of height bands")
	flag.Parse()

	if *classes < 1 {
		log.Fatalf("-classes must be at least 1, got %d", *classes)
	}

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", *addr, err)
	}

	srv := inference.NewGRPCServer(&inference.HeightBands{Classes: *classes})
	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Printf("[gRPC] server stopped: %v", err)
		}
	}()
	log.Printf("[gRPC] mock inference server listening on %s (%d classes)", lis.Addr(), *classes)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("Shutting down...")
	srv.GracefulStop()
}
