package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"github.com/banshee-data/haze/internal/forwardmodel"
	"github.com/banshee-data/haze/internal/monitoring"
	"github.com/banshee-data/haze/internal/version"
)

var (
	showVersion = flag.Bool("version", false, "Print version and exit")
	listen      = flag.String("listen", ":7410", "gRPC listen address")
	posNoise    = flag.Float64("pos-noise", 0.01, "Process noise on position (m²) per step")
	velNoise    = flag.Float64("vel-noise", 0.05, "Process noise on velocity (m²/s²) per step")
	measNoise   = flag.Float64("meas-noise", 0.01, "Measurement variance (m²) of the latest state")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("forward-model"))
		return
	}
	monitoring.SetLogWriters(monitoring.LogWriters{Ops: os.Stderr})

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	model := &forwardmodel.ConstantVelocity{
		ProcessNoisePos: *posNoise,
		ProcessNoiseVel: *velNoise,
		MeasurementVar:  *measNoise,
	}
	srv := grpc.NewServer()
	forwardmodel.RegisterServer(srv, model)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Println("shutting down gRPC server...")
		srv.GracefulStop()
	}()

	monitoring.Opsf("forward model serving on %s", lis.Addr())
	if err := srv.Serve(lis); err != nil {
		log.Fatalf("gRPC server error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
