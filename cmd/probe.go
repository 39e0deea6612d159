package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/bytedance/sonic"
	gorilla "github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/satriahrh/echomind/domain"
	"github.com/satriahrh/echomind/internal/websocket"
)

type probeOptions struct {
	url       string
	sessionID string
	audioFile string
	text      string
	chunkSize int
	interval  time.Duration
	wait      time.Duration
}

// newProbeCmd builds a small client that joins a session, streams a file as
// binary audio or submits a transcript, and prints what the server pushes back.
func newProbeCmd() *cobra.Command {
	opts := probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Stream audio or text to a running server and print the session messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.audioFile == "" && opts.text == "" {
				return errors.New("one of --audio or --text is required")
			}
			if opts.sessionID == "" {
				opts.sessionID = fmt.Sprintf("probe_%d", time.Now().Unix())
			}
			return runProbe(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "ws://localhost:8080/ws", "websocket endpoint")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session to join (generated when empty)")
	cmd.Flags().StringVar(&opts.audioFile, "audio", "", "audio file streamed as binary fragments")
	cmd.Flags().StringVar(&opts.text, "text", "", "transcript submitted for enrichment")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 4096, "bytes per audio fragment")
	cmd.Flags().DurationVar(&opts.interval, "interval", 100*time.Millisecond, "delay between fragments")
	cmd.Flags().DurationVar(&opts.wait, "wait", 15*time.Second, "how long to wait for insights")
	return cmd
}

func runProbe(ctx context.Context, out io.Writer, opts probeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	conn, _, err := gorilla.DefaultDialer.DialContext(ctx, opts.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", opts.url, err)
	}
	defer conn.Close()

	insights := make(chan struct{}, 1)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readProbeMessages(conn, out, insights)
	}()

	if err := writeProbeJSON(conn, websocket.CallStartMessage{
		BaseMessage: websocket.BaseMessage{Type: websocket.MessageTypeCallStart},
		SessionID:   opts.sessionID,
	}); err != nil {
		return err
	}

	if opts.text != "" {
		if err := writeProbeJSON(conn, websocket.TranscriptSubmitMessage{
			BaseMessage: websocket.BaseMessage{Type: websocket.MessageTypeTranscript},
			SessionID:   opts.sessionID,
			Text:        opts.text,
		}); err != nil {
			return err
		}
	}

	if opts.audioFile != "" {
		if err := streamProbeAudio(ctx, conn, opts); err != nil {
			return err
		}
	}

	var result error
	readerDone := false
	select {
	case <-insights:
	case result = <-readErr:
		readerDone = true
	case <-time.After(opts.wait):
		result = fmt.Errorf("no insights within %s", opts.wait)
	case <-ctx.Done():
	}

	_ = writeProbeJSON(conn, websocket.CallEndMessage{
		BaseMessage: websocket.BaseMessage{Type: websocket.MessageTypeCallEnd},
		SessionID:   opts.sessionID,
	})
	_ = conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))

	// the reader owns out until it exits
	conn.Close()
	if !readerDone {
		<-readErr
	}
	return result
}

func streamProbeAudio(ctx context.Context, conn *gorilla.Conn, opts probeOptions) error {
	data, err := os.ReadFile(opts.audioFile)
	if err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}
	if opts.chunkSize < 1 {
		opts.chunkSize = len(data)
	}

	for start := 0; start < len(data); start += opts.chunkSize {
		end := min(start+opts.chunkSize, len(data))
		if err := conn.WriteMessage(gorilla.BinaryMessage, data[start:end]); err != nil {
			return fmt.Errorf("failed to send audio fragment: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.interval):
		}
	}
	return nil
}

func writeProbeJSON(conn *gorilla.Conn, message any) error {
	data, err := sonic.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := conn.WriteMessage(gorilla.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// readProbeMessages prints every text frame and signals once an insight
// bundle arrives
func readProbeMessages(conn *gorilla.Conn, out io.Writer, insights chan<- struct{}) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if gorilla.IsCloseError(err, gorilla.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		var base websocket.BaseMessage
		if err := sonic.Unmarshal(payload, &base); err != nil {
			fmt.Fprintf(out, "unreadable message: %s\n", payload)
			continue
		}

		fmt.Fprintf(out, "%s %s\n", base.Type, payload)
		switch string(base.Type) {
		case domain.MessageTypeInsights:
			select {
			case insights <- struct{}{}:
			default:
			}
		case string(websocket.MessageTypeError):
			var e websocket.ErrorMessage
			if err := sonic.Unmarshal(payload, &e); err == nil && e.Code == websocket.ErrorCodeInvalidRequest {
				return fmt.Errorf("server rejected request: %s", e.Message)
			}
		}
	}
}
