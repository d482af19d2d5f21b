// guardian-overlay is the on-device lock screen. It follows the daemon
// over the dashboard WebSocket: when the system locks it goes
// fullscreen with the approval prompt, and it releases when a parent
// approves from here or from a remote dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gioui.org/app"
	"gioui.org/op"
	"gioui.org/unit"
	"gioui.org/widget/material"

	"guardiand/cmd/guardian-overlay/internal/theme"
	"guardiand/cmd/guardian-overlay/internal/ui"
	"guardiand/internal/dashboard"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8455", "guardiand dashboard address")
	flag.Parse()

	go func() {
		w := new(app.Window)
		w.Option(app.Title("Guardian"))
		w.Option(app.Size(unit.Dp(420), unit.Dp(180)))

		if err := loop(w, *addr); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
	}()
	app.Main()
}

func loop(w *app.Window, addr string) error {
	t := theme.NewTheme(material.NewTheme())
	overlay := ui.NewOverlay(t, &wsResolver{addr: addr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := dashboard.NewClient(addr)
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("connect to guardiand dashboard: %w", err)
	}
	defer client.Close()

	go followDaemon(ctx, w, client, overlay)

	var ops op.Ops
	for {
		switch e := w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			overlay.Layout(gtx)
			e.Frame(gtx.Ops)
		}
	}
}

// followDaemon applies dashboard events to the overlay and keeps the
// window mode in sync: fullscreen while locked, a small badge while
// not. A ticker redraws the deadline line while locked.
func followDaemon(ctx context.Context, w *app.Window, client *dashboard.Client, overlay *ui.Overlay) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	wasLocked := false
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-client.Messages():
			if !ok {
				return
			}
			if !overlay.Apply(env) {
				continue
			}
			locked := overlay.Locked()
			if locked && !wasLocked {
				w.Option(app.Fullscreen.Option())
			} else if !locked && wasLocked {
				w.Option(app.Windowed.Option())
			}
			wasLocked = locked
			w.Invalidate()
		case <-ticker.C:
			if overlay.Locked() {
				w.Invalidate()
			}
		}
	}
}

// wsResolver resolves approvals over a short-lived authenticated
// dashboard connection, separate from the streaming one.
type wsResolver struct {
	addr string
}

func (r *wsResolver) Resolve(ctx context.Context, requestID, pin string, approve bool) error {
	client := dashboard.NewClient(r.addr)
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	token, err := client.Authenticate(ctx, "guardian-overlay", pin)
	if err != nil {
		return err
	}

	err = client.Send(ctx, dashboard.TypeApprovalResponse, dashboard.ApprovalResponseData{
		Token:      token,
		RequestID:  requestID,
		Approved:   approve,
		ApproverID: "overlay",
	})
	if err != nil {
		return err
	}

	// The daemon reports problems (stale request, already resolved) as
	// an ERROR envelope; silence within the grace window means applied.
	grace := time.After(2 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-grace:
			return nil
		case env, ok := <-client.Messages():
			if !ok {
				return nil
			}
			if env.Type == dashboard.TypeError {
				var data dashboard.ErrorData
				if decodeErr := env.DecodeData(&data); decodeErr == nil {
					return fmt.Errorf("%s", data.Message)
				}
				return fmt.Errorf("request rejected")
			}
		}
	}
}
