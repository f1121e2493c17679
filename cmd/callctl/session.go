package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"peercall/internal/core/domain"
	"peercall/internal/core/services"
	"peercall/internal/infrastructure/capture"
	"peercall/internal/infrastructure/monitoring"
	"peercall/internal/infrastructure/recorder"
	"peercall/internal/infrastructure/signaling"
	webrtcinfra "peercall/internal/infrastructure/webrtc"
	"peercall/pkg/config"
	"peercall/pkg/logger"
	"peercall/pkg/tracing"
	"peercall/pkg/utils"
)

const maxChatPreview = 500

type session struct {
	log   *zap.SugaredLogger
	calls *services.CallManager
	lines <-chan string
	out   io.Writer
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
		for _, path := range []string{"configs/config.yaml", "config.yaml"} {
			if loaded, err := config.Load(path); err == nil {
				cfg = loaded
				break
			}
		}
	}

	if id := c.String("id"); id != "" {
		cfg.Client.ParticipantID = id
	}
	if name := c.String("name"); name != "" {
		cfg.Client.DisplayName = name
	}
	if backend := c.String("backend"); backend != "" {
		cfg.Signaling.Backend = backend
	}
	if relay := c.String("relay"); relay != "" {
		cfg.Signaling.RelayURL = relay
	}
	if cfg.Client.DisplayName == "" {
		cfg.Client.DisplayName = cfg.Client.ParticipantID
	}
	if cfg.Client.ParticipantID == "" {
		return nil, fmt.Errorf("a participant id is required (--id or client.participant_id)")
	}
	return cfg, cfg.Validate()
}

// runSession wires the call stack, runs fn and tears everything down on
// return or on SIGINT/SIGTERM.
func runSession(c *cli.Context, fn func(ctx context.Context, s *session) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar().With("participant_id", cfg.Client.ParticipantID)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: "client",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(flushCtx)
	}()

	registry := prometheus.NewRegistry()
	collector := monitoring.NewPrometheusCollector(registry)
	if cfg.Monitoring.PrometheusEnabled {
		srv := &http.Server{
			Addr:              cfg.Monitoring.Address,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warnw("metrics endpoint stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	self := domain.Participant{
		ID:             domain.ParticipantID(cfg.Client.ParticipantID),
		DisplayName:    cfg.Client.DisplayName,
		AvatarURL:      cfg.Client.AvatarURL,
		ContactAddress: cfg.Client.ContactAddress,
	}

	signalFactory := signaling.NewFactory(cfg, log)
	defer signalFactory.Close()
	transport, err := signalFactory.Transport(ctx, self.ID)
	if err != nil {
		return fmt.Errorf("failed to open signaling: %w", err)
	}
	defer transport.Close()

	peers, err := webrtcinfra.NewPeerFactory(webrtcinfra.OptionsFromConfig(cfg), log)
	if err != nil {
		return err
	}

	driver, err := capture.NewDriver(cfg.Capture.Driver)
	if err != nil {
		return err
	}
	device := capture.NewDevice(driver, capture.ProfileFromConfig(cfg), log)

	rec := recorder.NewRecorder(
		recorder.OptionsFromConfig(cfg),
		recorder.NewFileSink(cfg.Recording.OutputDir, log),
		log,
	)

	calls, err := services.NewCallManager(services.CallManagerConfigFrom(cfg), services.CallManagerDeps{
		Self:      self,
		Signaling: transport,
		Peers:     peers,
		Capture:   device,
		Recorder:  rec,
		Metrics:   collector,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer func() {
		endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = calls.End(endCtx)
	}()

	s := &session{
		log:   log,
		calls: calls,
		lines: readLines(ctx, os.Stdin),
		out:   os.Stdout,
	}
	log.Infow("call client ready", "backend", signalFactory.Backend())

	if err := fn(ctx, s); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

const helpText = `commands:
  v            toggle camera
  a            toggle microphone
  s            toggle screen share
  r            start or stop recording
  say <text>   send a chat message
  add <id>     invite a participant (group calls)
  rm <id>      remove a participant (group calls)
  q            hang up`

// interact drives a connected call from stdin until it ends.
func (s *session) interact(ctx context.Context) error {
	snaps, cancel := s.calls.Subscribe()
	defer cancel()
	fmt.Fprintln(s.out, helpText)

	var last domain.Snapshot
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap := <-snaps:
			s.render(last, snap)
			if snap.Phase == domain.PhaseIdle {
				return nil
			}
			last = snap

		case line, ok := <-s.lines:
			if !ok {
				return s.calls.End(ctx)
			}
			done, err := s.command(ctx, line)
			if err != nil {
				fmt.Fprintln(s.out, "error:", err)
			}
			if done {
				return nil
			}
		}
	}
}

func (s *session) command(ctx context.Context, line string) (bool, error) {
	verb, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch verb {
	case "":
		return false, nil
	case "v":
		on, err := s.calls.ToggleVideo()
		if err == nil {
			fmt.Fprintf(s.out, "camera %s\n", onOff(on))
		}
		return false, err
	case "a":
		on, err := s.calls.ToggleAudio()
		if err == nil {
			fmt.Fprintf(s.out, "microphone %s\n", onOff(on))
		}
		return false, err
	case "s":
		on, err := s.calls.ToggleScreenShare(ctx)
		if err == nil {
			fmt.Fprintf(s.out, "screen share %s\n", onOff(on))
		}
		return false, err
	case "r":
		if s.calls.Snapshot().Recording {
			artifact, err := s.calls.StopRecording(ctx)
			if err == nil {
				fmt.Fprintf(s.out, "recording saved to %s (%d bytes)\n", artifact.Location, artifact.Size)
			}
			return false, err
		}
		if err := s.calls.StartRecording(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "recording")
		return false, nil
	case "say":
		return false, s.calls.SendMessage(ctx, arg)
	case "add":
		return false, s.calls.AddParticipant(ctx, participant(arg))
	case "rm":
		return false, s.calls.RemoveParticipant(ctx, domain.ParticipantID(arg))
	case "q", "quit", "hangup":
		return true, s.calls.End(ctx)
	case "?", "help":
		fmt.Fprintln(s.out, helpText)
		return false, nil
	}
	return false, fmt.Errorf("unknown command %q", verb)
}

func (s *session) render(prev, snap domain.Snapshot) {
	if snap.Phase != prev.Phase {
		fmt.Fprintf(s.out, "[%s]\n", snap.Phase)
		if prev.Phase == domain.PhaseConnected && prev.Session != nil && !prev.Session.ConnectedAt.IsZero() {
			fmt.Fprintf(s.out, "call lasted %s\n", utils.FormatDuration(utils.Since(prev.Session.ConnectedAt)))
		}
		if snap.Phase == domain.PhaseIdle && snap.LastError != "" {
			fmt.Fprintf(s.out, "call ended: %s\n", snap.LastError)
		}
	}

	for _, p := range snap.Peers {
		old, known := prev.Peer(p.Participant.ID)
		switch {
		case !known:
			fmt.Fprintf(s.out, "(%s) %s joined\n", utils.Initials(p.Participant.DisplayName), p.Participant.Label())
		case old.Quality != p.Quality:
			fmt.Fprintf(s.out, "%s: %s connection\n", p.Participant.Label(), p.Quality)
		case old.Speaking != p.Speaking && p.Speaking:
			fmt.Fprintf(s.out, "%s is speaking\n", p.Participant.Label())
		}
	}
	for _, p := range prev.Peers {
		if _, ok := snap.Peer(p.Participant.ID); !ok && snap.Phase == domain.PhaseConnected {
			fmt.Fprintf(s.out, "%s left\n", p.Participant.Label())
		}
	}

	if len(snap.Chat) > len(prev.Chat) {
		for _, msg := range snap.Chat[len(prev.Chat):] {
			if !msg.Local {
				fmt.Fprintf(s.out, "%s <%s> %s\n", msg.Timestamp.Format("15:04:05"), msg.From, utils.TruncateString(msg.Content, maxChatPreview))
			}
		}
	}
}

// answerLoop prompts for every incoming invitation and hands accepted calls
// to interact.
func (s *session) answerLoop(ctx context.Context) error {
	snaps, cancel := s.calls.Subscribe()
	defer cancel()
	fmt.Fprintln(s.out, "waiting for calls, Ctrl-C to quit")

	var prompted domain.SessionID
	for {
		var snap domain.Snapshot
		select {
		case <-ctx.Done():
			return nil
		case snap = <-snaps:
		}

		if snap.Phase != domain.PhaseRinging || snap.Session == nil ||
			snap.Session.Direction != domain.DirectionIncoming || snap.Session.ID == prompted {
			continue
		}
		prompted = snap.Session.ID

		fmt.Fprintf(s.out, "incoming %s call from %s, answer? [y/N] ", snap.Session.Mode, snap.Session.Initiator.Label())
		var answer string
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-s.lines:
			if !ok {
				return nil
			}
			answer = strings.ToLower(line)
		}

		if answer != "y" && answer != "yes" {
			if err := s.calls.Reject(ctx); err != nil {
				fmt.Fprintln(s.out, "error:", err)
			}
			continue
		}
		if err := s.calls.Accept(ctx); err != nil {
			fmt.Fprintln(s.out, "error:", err)
			continue
		}
		if err := s.interact(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "waiting for calls, Ctrl-C to quit")
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
