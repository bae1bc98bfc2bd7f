package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/park285/matka-round-server/internal/gameclient"
	"github.com/park285/matka-round-server/pkg/wire"
	"github.com/pterm/pterm"
)

func main() {
	baseURL := strings.TrimRight(getenvDefault("ROUND_SERVER_URL", "http://localhost:8080"), "/")
	wsURL := os.Getenv("ROUND_SERVER_WS")
	if wsURL == "" {
		wsURL = "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	}

	client := gameclient.NewStateClient(baseURL, gameclient.WithTimeout(5*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, err := client.Health(ctx)
	switch {
	case err != nil && h == nil:
		pterm.Error.Printfln("/healthz: %v", err)
		os.Exit(1)
	case err != nil:
		pterm.Warning.Printfln("/healthz: %s (sessions=%d)", h.Status, h.Sessions)
	default:
		pterm.Success.Printfln("/healthz: %s (sessions=%d)", h.Status, h.Sessions)
	}

	st, err := client.State(ctx)
	if err != nil {
		pterm.Error.Printfln("/state: %v", err)
		os.Exit(1)
	}
	printState(st)

	user := os.Getenv("ROUNDCHECK_USER")
	if user == "" {
		pterm.Info.Println("ROUNDCHECK_USER not set; skipping websocket check")
		return
	}
	watch(wsURL, user, os.Getenv("ROUNDCHECK_PASSWORD"))
}

func printState(st *wire.GameStatePayload) {
	if st.Game == nil {
		pterm.Info.Println("no round yet")
	} else {
		g := st.Game
		rows := pterm.TableData{
			{"round", g.ID},
			{"status", g.Status},
			{"phase", g.Phase},
			{"start", g.StartTime.Format(time.RFC3339)},
			{"end", g.EndTime.Format(time.RFC3339)},
			{"time left", (time.Duration(g.TimeLeftSec) * time.Second).String()},
		}
		if g.Result != nil {
			rows = append(rows, []string{"result", fmt.Sprintf("%s-%s-%s", g.Result.OpenPanna, g.Result.Jodi, g.Result.ClosePanna)})
		}
		_ = pterm.DefaultTable.WithData(rows).Render()
	}
	if st.NextRoundAt != nil {
		pterm.Info.Printfln("next round at %s", st.NextRoundAt.Format(time.RFC3339))
	}
}

// watch authenticates over the websocket and prints frames for a short window.
func watch(wsURL, user, password string) {
	seconds, _ := strconv.Atoi(getenvDefault("ROUNDCHECK_WATCH_SEC", "10"))
	ws := gameclient.New(wsURL, gameclient.Backoff{Base: 200 * time.Millisecond, Max: 2 * time.Second, MaxAttempts: 3})
	ws.OnStateChange(func(s gameclient.State) {
		pterm.Debug.Printfln("ws state: %s", s)
	})
	ws.OnFrame(func(f gameclient.Frame) {
		pterm.Printfln("%s %s", pterm.LightCyan(f.Type), string(f.Payload))
	})

	spinner, _ := pterm.DefaultSpinner.Start("connecting to " + wsURL)
	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ws.Connect(cctx); err != nil {
		spinner.Fail(err.Error())
		return
	}
	if err := ws.Send(cctx, wire.TypeAuth, wire.AuthRequest{Username: user, Password: password}); err != nil {
		spinner.Fail(err.Error())
		return
	}
	spinner.Success("connected")

	time.Sleep(time.Duration(seconds) * time.Second)
	_ = ws.Close(context.Background())
}

func getenvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
