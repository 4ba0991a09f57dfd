package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tutor/backend/internal/audio"
	"github.com/zhouzirui/z-tutor/backend/internal/config"
	"github.com/zhouzirui/z-tutor/backend/internal/credentials"
	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/model/tutor"
	"github.com/zhouzirui/z-tutor/backend/internal/service/ai"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
	"github.com/zhouzirui/z-tutor/backend/internal/transport"
	"github.com/zhouzirui/z-tutor/backend/internal/transport/bedrock"
	"github.com/zhouzirui/z-tutor/backend/internal/transport/relay"
)

type runFlags struct {
	topic     string
	level     string
	voice     string
	input     string
	inputRate int
	output    string
	wait      time.Duration
	timeout   time.Duration
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream an audio file into a new session and record the reply",
	Args:  cobra.NoArgs,
	RunE:  runProbe,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.topic, "topic", "general practice", "lesson topic")
	f.StringVar(&runOpts.level, "level", tutor.DefaultLevel, "learner level used to pick the tutor profile")
	f.StringVar(&runOpts.voice, "voice", "", "voice id or alias (male, female, british)")
	f.StringVarP(&runOpts.input, "input", "i", "", "WAV or raw 16-bit mono PCM file to use as microphone input")
	f.IntVar(&runOpts.inputRate, "rate", 16000, "sample rate of raw PCM input")
	f.StringVarP(&runOpts.output, "output", "o", "reply.pcm", "file receiving 24 kHz 16-bit mono PCM reply audio")
	f.DurationVar(&runOpts.wait, "wait", 8*time.Second, "how long to keep listening after the input ends")
	f.DurationVar(&runOpts.timeout, "timeout", 2*time.Minute, "overall deadline")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}

func runProbe(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: .env not loaded: %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runOpts.timeout)
	defer cancel()

	source, err := audio.LoadFileSource(runOpts.input, audio.Format{SampleRate: runOpts.inputRate, Channels: 1, BitsPerSample: 16}, audio.Input16k)
	if err != nil {
		return err
	}
	outFile, err := os.Create(runOpts.output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	sink := audio.NewFileSink(outFile)
	defer sink.Close()

	creds, err := credentials.NewAWSProvider(ctx, credentials.AWSOptions{
		Region:          cfg.Voice.Region,
		Profile:         cfg.Voice.Profile,
		AccessKeyID:     cfg.Voice.AccessKeyID,
		SecretAccessKey: cfg.Voice.SecretAccessKey,
		SessionToken:    cfg.Voice.SessionToken,
		RoleARN:         cfg.Voice.RoleARN,
	})
	if err != nil {
		return err
	}

	var dialer transport.Dialer = bedrock.NewDialer()
	if cfg.Voice.Transport == config.TransportRelay {
		opts := relay.DefaultOptions()
		if cfg.Voice.RelayGzip {
			opts.Encoding = relay.Gzip
		}
		dialer = relay.NewDialer(opts)
	}

	devices := audio.FileDevices{Source: source, Sink: sink}
	manager := voice.NewManager(voice.Deps{
		Credentials:  creds,
		Dialer:       dialer,
		Sources:      devices,
		Sinks:        devices,
		Instructions: ai.NewBuilder(tutor.NewMemoryStore(tutor.Seed())),
	}, voice.Options{
		Endpoint:       transport.Endpoint{Region: cfg.Voice.Region, ModelID: cfg.Voice.ModelID, URL: cfg.Voice.RelayURL},
		Inference:      voice.InferenceConfig{MaxTokens: cfg.Voice.MaxTokens, TopP: cfg.Voice.TopP, Temperature: cfg.Voice.Temperature},
		DefaultVoice:   cfg.Voice.DefaultVoice,
		ChunkInterval:  cfg.Voice.ChunkInterval,
		WatchdogWindow: cfg.Voice.Watchdog,
		HandshakeDelay: cfg.Voice.HandshakeDelay,
		WriteTimeout:   cfg.Voice.WriteTimeout,
	})

	summary, err := probe(ctx, manager, source, probeParams{
		start: conversation.StartConfig{Topic: runOpts.topic, Level: runOpts.level, VoiceID: runOpts.voice},
		wait:  runOpts.wait,
	}, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nsession %s: %d events, %d reply bytes written to %s\n",
		summary.sessionID, summary.events, sink.Written(), runOpts.output)
	return nil
}

type probeParams struct {
	start conversation.StartConfig
	wait  time.Duration
}

type probeSummary struct {
	sessionID string
	events    int
	texts     []string
}

// probe 跑完一次完整的会话：开始、推送整段输入、等待回复、结束。
func probe(ctx context.Context, manager *voice.Manager, source *audio.FileSource, params probeParams, out io.Writer) (probeSummary, error) {
	recorder := voice.NewRecorder(0)
	unsubscribe := manager.Subscribe(recorder)
	defer unsubscribe()
	unprint := manager.Subscribe(voice.ListenerFunc(func(ev voice.Event) {
		if text, ok := ev.Payload.(voice.TextOutput); ok && !text.Interrupted() {
			fmt.Fprintf(out, "[%s] %s\n", strings.ToLower(text.Role), text.Content)
		}
	}))
	defer unprint()

	sessionID, err := manager.StartConversation(ctx, params.start)
	if err != nil {
		return probeSummary{}, fmt.Errorf("start conversation: %w", err)
	}
	defer manager.EndConversation(context.Background(), sessionID)

	if err := manager.StartAudioCapture(ctx, sessionID); err != nil {
		return probeSummary{}, fmt.Errorf("start capture: %w", err)
	}
	fmt.Fprintf(out, "streaming %s of audio into session %s\n", source.Duration().Round(time.Millisecond), sessionID)

	select {
	case <-source.Done():
	case <-ctx.Done():
	}
	if err := manager.StopAudioCapture(context.Background(), sessionID); err != nil {
		return probeSummary{}, fmt.Errorf("stop capture: %w", err)
	}

	select {
	case <-time.After(params.wait):
	case <-ctx.Done():
	}

	if err := manager.EndConversation(context.Background(), sessionID); err != nil {
		return probeSummary{}, err
	}

	summary := probeSummary{sessionID: sessionID, events: len(recorder.ForSession(sessionID))}
	for _, ev := range recorder.ByType(voice.EventTextOutput) {
		if text, ok := ev.Payload.(voice.TextOutput); ok && !text.Interrupted() {
			summary.texts = append(summary.texts, text.Content)
		}
	}
	return summary, nil
}
