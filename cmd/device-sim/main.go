// device-sim stands in for the phone shell: it connects to /ws/device,
// reports itself ready and prints every speak, vibrate and cancel command.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/stairguard/pkg/device"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws/device", "stairguard device endpoint")
	id := flag.String("id", "sim-1", "device id")
	ttsReady := flag.Bool("tts-ready", true, "report the speech engine as ready")
	battery := flag.Int("battery", 87, "reported battery percent")
	heartbeat := flag.Duration("heartbeat", 30*time.Second, "status report interval")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report := device.StatusReport{DeviceID: *id, TTSReady: *ttsReady, HapticsOK: true, Battery: *battery}
	target := *url
	if !strings.Contains(target, "?") {
		target += "?id=" + *id
	}

	for {
		err := session(ctx, target, report, *heartbeat)
		if ctx.Err() != nil {
			fmt.Println("bye")
			return
		}
		fmt.Fprintf(os.Stderr, "disconnected: %v, retrying in 2s\n", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// session holds one connection until it fails or ctx ends.
func session(ctx context.Context, url string, report device.StatusReport, heartbeat time.Duration) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	fmt.Printf("connected to %s as %s\n", url, report.DeviceID)

	var writeMu sync.Mutex
	sendStatus := func() error {
		data, err := device.Encode(device.TypeStatus, time.Now(), report)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return ws.WriteMessage(websocket.TextMessage, data)
	}
	if err := sendStatus(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				writeMu.Lock()
				ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				writeMu.Unlock()
				ws.Close()
				return
			case <-ticker.C:
				if err := sendStatus(); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		printCommand(data)
	}
}

func printCommand(data []byte) {
	env, err := device.Decode(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad message: %v\n", err)
		return
	}
	at := time.UnixMilli(env.TS).Format("15:04:05.000")

	switch env.Type {
	case device.TypeSpeak:
		var cmd device.SpeakCommand
		if json.Unmarshal(env.Data, &cmd) == nil {
			mode := "queue"
			if cmd.Flush {
				mode = "flush"
			}
			fmt.Printf("%s SPEAK   [%s/%s] %s\n", at, cmd.Urgency, mode, cmd.Text)
		}
	case device.TypeVibrate:
		var cmd device.VibrateCommand
		if json.Unmarshal(env.Data, &cmd) == nil {
			var total int64
			for _, t := range cmd.TimingsMs {
				total += t
			}
			fmt.Printf("%s VIBRATE %s %v (%dms)\n", at, cmd.Pattern, cmd.TimingsMs, total)
		}
	case device.TypeCancel:
		var cmd device.CancelCommand
		if json.Unmarshal(env.Data, &cmd) == nil {
			fmt.Printf("%s CANCEL  %s\n", at, cmd.Target)
		}
	case device.TypeAudio:
		var cmd device.AudioCommand
		if json.Unmarshal(env.Data, &cmd) == nil {
			fmt.Printf("%s AUDIO   %s %dHz %d bytes\n", at, cmd.Encoding, cmd.SampleRate, len(cmd.Audio))
		}
	default:
		fmt.Printf("%s %s\n", at, env.Type)
	}
}
