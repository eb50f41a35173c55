// Package kafka holds broker-level helpers shared by the producer and consumer.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var ErrNoBrokers = errors.New("kafka brokers not configured")

// Reachable reports nil once any broker accepts a TCP connection. Brokers are
// dialed concurrently; the first success wins.
func Reachable(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return ErrNoBrokers
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(brokers))
	for _, b := range brokers {
		go func(addr string) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err == nil {
				_ = conn.Close()
			}
			errs <- err
		}(b)
	}
	var last error
	for range brokers {
		if err := <-errs; err == nil {
			return nil
		} else {
			last = err
		}
	}
	return fmt.Errorf("no kafka brokers reachable: %w", last)
}

// WaitReachable retries Reachable every interval until a broker answers or
// ctx ends. Compose brings Redpanda up after the engine, so startup waits
// rather than failing on the first dial.
func WaitReachable(ctx context.Context, brokers []string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		err := Reachable(ctx, brokers)
		if err == nil || errors.Is(err, ErrNoBrokers) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for kafka: %w", err)
		case <-ticker.C:
		}
	}
}
