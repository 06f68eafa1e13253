package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/voice-relay/backend/internal/relay"
)

type probeOptions struct {
	URL            string
	Audio          []byte
	ChunkBytes     int
	InterruptAfter int
	Idle           time.Duration
	Out            io.Writer
}

type probeResult struct {
	SessionID   string
	Chunks      int
	AudioBytes  int
	Text        string
	Interrupted bool
	Errors      []string
}

type clientMessage struct {
	Type      string `json:"type"`
	AudioData []byte `json:"audioData,omitempty"`
}

func newSendCmd() *cobra.Command {
	var (
		url            string
		audioPath      string
		outPath        string
		chunkBytes     int
		interruptAfter int
		idle           time.Duration
		timeout        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Play an audio file into the relay and save the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			if audioPath == "" {
				return errors.New("--audio is required")
			}
			audio, err := os.ReadFile(audioPath)
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}

			out := io.Discard
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := runProbe(ctx, probeOptions{
				URL:            url,
				Audio:          audio,
				ChunkBytes:     chunkBytes,
				InterruptAfter: interruptAfter,
				Idle:           idle,
				Out:            out,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "session=%s chunks=%d bytes=%d interrupted=%t\n", res.SessionID, res.Chunks, res.AudioBytes, res.Interrupted)
			if res.Text != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "text: %s\n", res.Text)
			}
			for _, e := range res.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", e)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "ws://localhost:3001/ws", "relay WebSocket URL")
	cmd.Flags().StringVar(&audioPath, "audio", "", "raw PCM audio to send")
	cmd.Flags().StringVar(&outPath, "out", "", "file receiving the reply audio")
	cmd.Flags().IntVar(&chunkBytes, "chunk-bytes", 0, "split the audio into utterances of this size (0 sends one utterance)")
	cmd.Flags().IntVar(&interruptAfter, "interrupt-after", 0, "send interrupt after this many reply chunks")
	cmd.Flags().DurationVar(&idle, "idle", 3*time.Second, "stop after this long without a reply frame")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall timeout")
	return cmd
}

// runProbe opens a session, sends the audio and collects replies until the
// relay has been quiet for opts.Idle.
func runProbe(ctx context.Context, opts probeOptions) (probeResult, error) {
	var res probeResult
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Idle <= 0 {
		opts.Idle = 3 * time.Second
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return res, fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(clientMessage{Type: relay.TypeStartSession}); err != nil {
		return res, fmt.Errorf("send start_session: %w", err)
	}

	for res.SessionID == "" {
		msg, err := readOutbound(conn, time.Now().Add(time.Minute))
		if err != nil {
			return res, probeErr(ctx, "await session_started", err)
		}
		switch msg.Type {
		case relay.TypeSessionStarted:
			res.SessionID = msg.SessionID
		case relay.TypeError:
			return res, fmt.Errorf("relay refused the session: %s (%s)", msg.Message, msg.Code)
		}
	}
	log.Printf("[probe] session=%s started", res.SessionID)

	for _, utterance := range splitAudio(opts.Audio, opts.ChunkBytes) {
		if err := conn.WriteJSON(clientMessage{Type: relay.TypeAudioData, AudioData: utterance}); err != nil {
			return res, fmt.Errorf("send audio_data: %w", err)
		}
	}

	var text strings.Builder
	for {
		msg, err := readOutbound(conn, time.Now().Add(opts.Idle))
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			return res, probeErr(ctx, "read reply", err)
		}

		switch msg.Type {
		case relay.TypeAudioResponse:
			res.Chunks++
			res.AudioBytes += len(msg.AudioData)
			if _, err := opts.Out.Write(msg.AudioData); err != nil {
				return res, fmt.Errorf("write reply audio: %w", err)
			}
			if msg.Text != "" {
				if text.Len() > 0 {
					text.WriteString(" ")
				}
				text.WriteString(msg.Text)
			}
			if opts.InterruptAfter > 0 && res.Chunks == opts.InterruptAfter && !res.Interrupted {
				if err := conn.WriteJSON(clientMessage{Type: relay.TypeInterrupt}); err != nil {
					return res, fmt.Errorf("send interrupt: %w", err)
				}
				res.Interrupted = true
			}
		case relay.TypeError:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", msg.Code, msg.Message))
		}
	}
	res.Text = text.String()

	// the read deadline fired, so the connection cannot be read again; end the
	// session and close
	if err := conn.WriteJSON(clientMessage{Type: relay.TypeEndSession}); err != nil {
		log.Printf("[probe] send end_session: %v", err)
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return res, nil
}

func readOutbound(conn *websocket.Conn, deadline time.Time) (relay.Outbound, error) {
	var msg relay.Outbound
	if err := conn.SetReadDeadline(deadline); err != nil {
		return msg, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode relay frame: %w", err)
	}
	return msg, nil
}

func probeErr(ctx context.Context, step string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", step, ctxErr)
	}
	return fmt.Errorf("%s: %w", step, err)
}

func splitAudio(audio []byte, size int) [][]byte {
	if len(audio) == 0 {
		return nil
	}
	if size <= 0 || size >= len(audio) {
		return [][]byte{audio}
	}
	var chunks [][]byte
	for start := 0; start < len(audio); start += size {
		chunks = append(chunks, audio[start:min(start+size, len(audio))])
	}
	return chunks
}

func newHealthCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print the relay health report",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("query health: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("relay unhealthy: %s", resp.Status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:3001/health", "relay health URL")
	return cmd
}
