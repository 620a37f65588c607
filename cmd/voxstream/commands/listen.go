package commands

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/harunnryd/voxstream/pkg/transports/sse"
)

var (
	listenURL      string
	listenAudio    bool
	listenLanguage string
	listenGender   string
)

var listenCmd = &cobra.Command{
	Use:   "listen <query>",
	Short: "Open a stream against a running server and print its events",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return listen(ctx, cmd.OutOrStdout(), strings.Join(args, " "))
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenURL, "url", "http://localhost:8080/v1/stream", "stream endpoint")
	listenCmd.Flags().BoolVar(&listenAudio, "audio", false, "request synthesized audio")
	listenCmd.Flags().StringVar(&listenLanguage, "language", "", "response language")
	listenCmd.Flags().StringVar(&listenGender, "gender", "", "voice gender hint")
}

func listen(ctx context.Context, out io.Writer, query string) error {
	u, err := url.Parse(listenURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("audio", strconv.FormatBool(listenAudio))
	if listenLanguage != "" {
		q.Set("language", listenLanguage)
	}
	if listenGender != "" {
		q.Set("gender", listenGender)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("stream rejected: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var audioBytes uint64
	reader := sse.NewReader(resp.Body)
	for {
		f, err := reader.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			break
		}
		if err != nil {
			return err
		}
		switch f.Event {
		case sse.EventText:
			var p sse.TextPayload
			if f.Unmarshal(&p) == nil {
				fmt.Fprint(out, p.Content)
			}
		case sse.EventAudio:
			var p sse.AudioPayload
			if f.Unmarshal(&p) == nil {
				if raw, err := base64.StdEncoding.DecodeString(p.Chunk); err == nil {
					audioBytes += uint64(len(raw))
				}
			}
		default:
			fmt.Fprintf(out, "\n[%s] %s\n", f.Event, f.Data)
		}
	}
	if audioBytes > 0 {
		fmt.Fprintf(out, "audio received: %s\n", humanize.Bytes(audioBytes))
	}
	return nil
}
