// Command loadtest connects a number of websocket clients to one room, has
// each of them send messages and reports how many broadcasts arrived.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/chatrelay/internal/chat"
	ws "github.com/johndosdos/chatrelay/internal/websocket"
)

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	errors   atomic.Int64
}

func main() {
	url := flag.String("url", "ws://localhost:3000/ws", "websocket endpoint")
	clients := flag.Int("clients", 20, "number of concurrent connections")
	messages := flag.Int("messages", 10, "messages sent by each connection")
	room := flag.String("room", "loadtest", "room to join")
	interval := flag.Duration("interval", 100*time.Millisecond, "pause between messages of one connection")
	timeout := flag.Duration("timeout", 30*time.Second, "overall time limit")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var st stats
	want := int64(*clients) * int64(*messages)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := range *clients {
		g.Go(func() error {
			return runClient(gctx, *url, *room, i, *messages, *interval, want, &st)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("load test aborted", "error", err)
	}

	elapsed := time.Since(start)
	fmt.Printf("clients=%d sent=%d received=%d/%d errors=%d elapsed=%s\n",
		*clients, st.sent.Load(), st.received.Load(), want*int64(*clients), st.errors.Load(), elapsed.Round(time.Millisecond))
}

func runClient(ctx context.Context, url, room string, n, messages int, interval time.Duration, want int64, st *stats) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("client %d: dial: %w", n, err)
	}
	defer conn.CloseNow()

	name := fmt.Sprintf("load-%03d", n)
	if err := write(ctx, conn, ws.FrameJoin, map[string]string{"roomId": room, "userId": name, "username": name}); err != nil {
		return fmt.Errorf("client %d: join: %w", n, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var got int64
		for got < want {
			_, p, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var f ws.Frame
			if json.Unmarshal(p, &f) != nil {
				continue
			}
			switch f.Type {
			case chat.EventNewMessage:
				got++
				st.received.Add(1)
			case chat.EventError:
				st.errors.Add(1)
			}
		}
	}()

	for i := range messages {
		if err := write(ctx, conn, ws.FrameSend, map[string]string{"content": fmt.Sprintf("%s message %d", name, i)}); err != nil {
			return fmt.Errorf("client %d: send: %w", n, err)
		}
		st.sent.Add(1)

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
	conn.Close(websocket.StatusNormalClosure, "done")
	return nil
}

func write(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	p, err := json.Marshal(ws.Frame{Type: typ, Data: raw})
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, p)
}
