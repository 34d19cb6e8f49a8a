package main

import (
	"github.com/channelgrid/stomp-broker/internal/auth"
	"github.com/channelgrid/stomp-broker/internal/config"
	"github.com/channelgrid/stomp-broker/internal/connection"
	"github.com/channelgrid/stomp-broker/internal/event"
	"github.com/channelgrid/stomp-broker/internal/logger"
	"github.com/channelgrid/stomp-broker/internal/report"
	"github.com/channelgrid/stomp-broker/internal/server"
	"github.com/channelgrid/stomp-broker/internal/session"
	"github.com/channelgrid/stomp-broker/internal/store"
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		return
	}
	loggerCallback := logger.Init()
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)

	storeClient, err := store.NewClient()
	if err != nil {
		logger.FatalF("Error occured while initializing store client, details: %v", err)
		return
	}

	authority := auth.NewAuthority(storeClient)
	// repair sessions left open by an unclean shutdown before any client
	// can attempt a login
	if err := authority.RecoverSessions(); err != nil {
		logger.FatalF("Error occured while recovering sessions, details: %v", err)
		return
	}

	cleaner.Add(report.NewGenerator(storeClient))

	registry := connection.NewManager()
	broker := server.NewServer(registry, authority, session.Policy{
		RequireSubscribeToSend: cfg.RequireSubscribeToSend,
	})
	broker.Start(cfg.AppPort)
}
