package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

// setupInterrupts cancels the returned context on the first SIGINT or SIGTERM and exits on the
// second one.
func setupInterrupts(parent context.Context, log *logrus.Entry) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		log.Info("Shutdown signal received, attempting graceful shutdown")
		cancel()

		<-sig
		log.Warn("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()

	return ctx
}
