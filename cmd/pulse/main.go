package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rajnish8869/Pulse/internal/call"
	"github.com/rajnish8869/Pulse/internal/config"
	"github.com/rajnish8869/Pulse/internal/core"
	"github.com/rajnish8869/Pulse/internal/domain"
	"github.com/rajnish8869/Pulse/internal/media"
	"github.com/rajnish8869/Pulse/internal/rtc"
	"github.com/rajnish8869/Pulse/internal/store/wsstore"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	self, err := domain.ParseUserID(cfg.Identity)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid identity; set identity in config")
	}

	store, err := wsstore.Dial(ctx, cfg.StoreURL, self)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.StoreURL).Msg("store connection failed")
	}
	defer store.Close()

	store.OnWake(func(id domain.CallID, callerName string) {
		// Best-effort nudge only; the dispatcher picks the offer up from the
		// record store.
		log.Info().Str("call", string(id)).Str("caller_name", callerName).Msg("wake signal")
	})

	device := media.NewDevice()
	dial := func() (core.Transport, error) {
		h, err := device.Acquire()
		if err != nil {
			return nil, err
		}
		src, _ := h.(rtc.AudioSource)
		return rtc.New(rtc.Config{STUNServers: cfg.STUNServers}, src)
	}

	client := call.NewClient(call.Options{
		Self:        self,
		DisplayName: cfg.DisplayName,
		Store:       store,
		Device:      device,
		Waker:       store,
		Dial:        dial,
		AutoAnswer:  cfg.AutoAnswer,
		Timeouts: call.Timeouts{
			Offering:   cfg.OfferingTimeout,
			Ringing:    cfg.RingingTimeout,
			Connecting: cfg.ConnectingTimeout,
			StaleOffer: cfg.StaleOfferAge,
		},
	})
	client.Start(ctx)
	defer client.Stop()

	log.Info().Str("self", string(self)).Msg("pulse ready")
	fmt.Println("commands: call <id> [name] | answer | reject | talk | mute | end | status | quit")

	go repl(ctx, client, cancel)
	<-ctx.Done()
	log.Info().Msg("pulse exiting")
}

func repl(ctx context.Context, client *call.Client, quit context.CancelFunc) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "call":
			if len(fields) < 2 {
				fmt.Println("usage: call <id> [name]")
				continue
			}
			name := ""
			if len(fields) > 2 {
				name = fields[2]
			}
			_, err = client.MakeCall(ctx, domain.UserID(fields[1]), name)
		case "answer":
			err = client.AnswerCall(ctx)
		case "reject":
			err = client.RejectCall(ctx)
		case "talk":
			err = client.ToggleTalk(ctx, true)
		case "mute":
			err = client.ToggleTalk(ctx, false)
		case "end":
			err = client.EndCall(ctx)
		case "status":
			fmt.Println(client.Status())
		case "quit":
			quit()
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
		if err != nil {
			fmt.Println("error:", err)
		}
	}
}
