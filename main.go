package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"screenlink/auth"
	"screenlink/capture"
	"screenlink/config"
	"screenlink/discovery"
	"screenlink/encode"
	"screenlink/input"
	"screenlink/server"
	"screenlink/session"
	"screenlink/webapi"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	validator, err := auth.NewJWTValidator(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	collab := session.Collaborators{
		OpenGrabber: func(sc encode.StreamConfig) (capture.Grabber, error) {
			return capture.OpenGrabber(cfg.Display, sc.Width, sc.Height, sc.FPS)
		},
		OpenAudio: func() (capture.Source, error) {
			device := cfg.AudioDevice
			if device == "" {
				device = capture.FindLoopbackDevice()
			}
			if device == "" {
				return nil, errors.New("no loopback audio device found")
			}
			return capture.OpenSource(device)
		},
		NewFactory: func(withAudio bool) encode.Factory {
			return encode.FFmpegFactory(encode.FFmpegOptions{
				WithAudio: withAudio,
				TeeH264:   cfg.Preview,
			})
		},
	}

	sup := server.NewSupervisor(cfg, validator, input.NewXDoInjector(cfg.Display), collab)
	api := webapi.New(cfg, sup)
	sup.Notify = api.Hub().Publish

	go api.Serve()
	go func() {
		if err := sup.Serve(); err != nil {
			log.Fatalf("control server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Advertise {
		adv, err := discovery.Advertise(cfg.DeviceName, cfg.ListenPort, cfg.APIAddr)
		if err != nil {
			log.Printf("discovery: %v", err)
		} else {
			defer adv.Shutdown()
		}
	}

	presence := server.NewPresence(cfg.AuthServerURL, cfg.ServerToken, cfg.DeviceName)
	presenceDone := make(chan struct{})
	go func() {
		presence.Run(ctx)
		close(presenceDone)
	}()

	<-ctx.Done()
	log.Println("Gracefully closing")
	sup.Close()
	<-presenceDone
}
