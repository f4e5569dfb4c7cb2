package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go-livechat/internal/protocol"
)

var rootCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Open many chat connections and flood the room",
	RunE:  runLoadTest,
}

var (
	flagURL      string
	flagUsers    int
	flagMessages int
	flagInterval time.Duration
	flagLinger   time.Duration
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagURL, "url", "ws://localhost:3001/ws", "chat websocket endpoint")
	flags.IntVar(&flagUsers, "users", 100, "concurrent connections")
	flags.IntVar(&flagMessages, "messages", 20, "messages sent per connection")
	flags.DurationVar(&flagInterval, "interval", 10*time.Millisecond, "pause between two messages of one connection")
	flags.DurationVar(&flagLinger, "linger", 2*time.Second, "how long to keep reading after the last send")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute loadtest command")
	}
}

type stats struct {
	connected atomic.Int64
	sent      atomic.Int64
	received  atomic.Int64
	failed    atomic.Int64
}

func runLoadTest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info().Int("users", flagUsers).Int("messages", flagMessages).Str("url", flagURL).Msg("[loadtest] starting")
	start := time.Now()

	var st stats
	g, ctx := errgroup.WithContext(ctx)
	for i := range flagUsers {
		g.Go(func() error {
			if err := runUser(ctx, i, &st); err != nil {
				st.failed.Add(1)
				log.Warn().Err(err).Int("user", i).Msg("[loadtest] connection failed")
			}
			return nil
		})
	}
	g.Wait()

	elapsed := time.Since(start)
	log.Info().
		Int64("connected", st.connected.Load()).
		Int64("failed", st.failed.Load()).
		Int64("sent", st.sent.Load()).
		Int64("received", st.received.Load()).
		Dur("elapsed", elapsed).
		Msg("[loadtest] done")
	return nil
}

func runUser(ctx context.Context, id int, st *stats) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, flagURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	st.connected.Add(1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			var f protocol.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Event == protocol.EventNewMessage {
				st.received.Add(1)
			}
		}
	}()

	for i := range flagMessages {
		body := fmt.Sprintf("loadtest message %d from user %d", i, id)
		env := protocol.Envelope{Event: protocol.EventSendMessage, Data: protocol.SendMessage{Message: &body}}
		if err := conn.WriteJSON(env); err != nil {
			return err
		}
		st.sent.Add(1)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(flagInterval):
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(flagLinger):
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	wg.Wait()
	return nil
}
