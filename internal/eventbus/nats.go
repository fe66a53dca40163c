// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

//go:build nats

package eventbus

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
)

// newNATSBus connects a core NATS publisher and subscriber, starting an
// embedded server first when cfg.EmbeddedNATS is set.
func newNATSBus(cfg Config, logger watermill.LoggerAdapter) (*Bus, error) {
	var closers []func() error

	url := cfg.NATSURL
	if cfg.EmbeddedNATS {
		srv, err := NewEmbeddedServer(EmbeddedConfig{Host: "127.0.0.1", Port: -1})
		if err != nil {
			return nil, err
		}
		url = srv.ClientURL()
		closers = append(closers, func() error { srv.Shutdown(); return nil })
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("granite"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		runClosers(closers)
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	closers = append(closers, pub.Close)

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:            url,
		NatsOptions:    natsOpts,
		Unmarshaler:    &wmNats.NATSMarshaler{},
		AckWaitTimeout: 30 * time.Second,
		JetStream:      wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		runClosers(closers)
		return nil, fmt.Errorf("create NATS subscriber: %w", err)
	}
	closers = append(closers, sub.Close)

	return &Bus{pub: pub, sub: sub, logger: logger, closers: closers}, nil
}

func runClosers(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i]()
	}
}

// EmbeddedConfig configures the in-process NATS server.
type EmbeddedConfig struct {
	Host string
	// Port -1 picks a random free port.
	Port int
}

// EmbeddedServer is an in-process NATS server.
type EmbeddedServer struct {
	server *server.Server
}

// NewEmbeddedServer starts a server and waits until it accepts clients.
func NewEmbeddedServer(cfg EmbeddedConfig) (*EmbeddedServer, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "granite-events",
		Host:       cfg.Host,
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}
	return &EmbeddedServer{server: ns}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.server.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}
