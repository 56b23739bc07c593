package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// callsim drives a fake phone call against a running denwa instance: it
// opens the media-stream websocket, pushes mu-law frames at wire cadence,
// and reports the call snapshot and latency window afterwards.

type options struct {
	baseURL    string
	callID     string
	turns      int
	chunkMS    int
	talkMS     int
	pauseMS    int
	verbose    bool
	sampleRate int
}

func parseOptions() options {
	var opts options
	flag.StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "denwa base URL")
	flag.StringVar(&opts.callID, "call-id", "", "call id (default: generated)")
	flag.IntVar(&opts.turns, "turns", 3, "number of caller speech bursts")
	flag.IntVar(&opts.chunkMS, "chunk-ms", 20, "media frame size in milliseconds")
	flag.IntVar(&opts.talkMS, "talk-ms", 1200, "length of each speech burst in milliseconds")
	flag.IntVar(&opts.pauseMS, "pause-ms", 1500, "pause between bursts in milliseconds")
	flag.IntVar(&opts.sampleRate, "sample-rate", 8000, "stream sample rate")
	flag.BoolVar(&opts.verbose, "v", false, "log every frame batch")
	flag.Parse()

	if opts.callID == "" {
		opts.callID = "SIM" + uuid.NewString()[:8]
	}
	return opts
}

func main() {
	opts := parseOptions()

	wsURL := strings.Replace(opts.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/telephony/media-stream"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()

	streamSid := "MZ" + uuid.NewString()[:8]
	send(conn, map[string]any{"event": "connected", "protocol": "Call", "version": "1.0.0"})
	send(conn, map[string]any{
		"event":     "start",
		"streamSid": streamSid,
		"start": map[string]any{
			"streamSid": streamSid,
			"callSid":   opts.callID,
			"tracks":    []string{"inbound"},
			"mediaFormat": map[string]any{
				"encoding":   "audio/x-mulaw",
				"sampleRate": opts.sampleRate,
				"channels":   1,
			},
		},
	})
	fmt.Printf("call %s: stream %s started\n", opts.callID, streamSid)

	frameBytes := opts.sampleRate * opts.chunkMS / 1000
	frame := make([]byte, frameBytes)
	for i := range frame {
		frame[i] = 0xff // mu-law silence
	}
	payload := base64.StdEncoding.EncodeToString(frame)

	ticker := time.NewTicker(time.Duration(opts.chunkMS) * time.Millisecond)
	defer ticker.Stop()

	for turn := 1; turn <= opts.turns; turn++ {
		frames := opts.talkMS / opts.chunkMS
		for i := 0; i < frames; i++ {
			<-ticker.C
			send(conn, map[string]any{
				"event":     "media",
				"streamSid": streamSid,
				"media": map[string]any{
					"track":   "inbound",
					"payload": payload,
				},
			})
		}
		if opts.verbose {
			fmt.Printf("call %s: turn %d sent %d frames\n", opts.callID, turn, frames)
		}
		time.Sleep(time.Duration(opts.pauseMS) * time.Millisecond)
		printSnapshot(opts.baseURL, opts.callID)
	}

	send(conn, map[string]any{
		"event":     "stop",
		"streamSid": streamSid,
		"stop":      map[string]any{"callSid": opts.callID},
	})
	fmt.Printf("call %s: stream stopped\n", opts.callID)

	printLatency(opts.baseURL)
}

func send(conn *websocket.Conn, msg map[string]any) {
	raw, err := json.Marshal(msg)
	if err != nil {
		fatalf("marshal %v: %v", msg["event"], err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		fatalf("write %v: %v", msg["event"], err)
	}
}

func printSnapshot(baseURL, callID string) {
	res, err := http.Get(baseURL + "/v1/calls/" + url.PathEscape(callID))
	if err != nil {
		fmt.Printf("call %s: snapshot fetch failed: %v\n", callID, err)
		return
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		fmt.Printf("call %s: snapshot status %d\n", callID, res.StatusCode)
		return
	}
	body, _ := io.ReadAll(res.Body)
	fmt.Printf("call %s: %s\n", callID, strings.TrimSpace(string(body)))
}

func printLatency(baseURL string) {
	res, err := http.Get(baseURL + "/v1/perf/latency")
	if err != nil {
		fmt.Printf("latency fetch failed: %v\n", err)
		return
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	fmt.Printf("latency window: %s\n", strings.TrimSpace(string(body)))
}

func fatalf(format string, v ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
	os.Exit(1)
}
