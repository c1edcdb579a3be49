// Command replay publishes recorded back-office events into the inbound
// stream, or watches the TripUpdate output and prints it as JSON.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"tripupdate-processor/internal/broker"
	"tripupdate-processor/internal/config"
	"tripupdate-processor/internal/events"
	"tripupdate-processor/internal/logger"
)

// record is one line of a replay file.
type record struct {
	Schema      events.Schema   `json:"schema"`
	Key         string          `json:"key"`
	EventTimeMs int64           `json:"eventTimeMs"`
	Payload     json.RawMessage `json:"payload"`
}

func main() {
	mode := flag.String("mode", "publish", "publish|watch")
	file := flag.String("file", "-", "NDJSON replay file, - for stdin")
	subject := flag.String("subject", "pubtrans", "inbound subject prefix for publish mode")
	interval := flag.Duration("interval", 0, "pause between published records")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	lg := logger.New(cfg.LogLevel, "text")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	nc, err := broker.Connect(ctx, cfg.NATSURL, broker.ConnOptions{MaxElapsed: 10 * time.Second, Log: lg})
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer broker.Close(nc)

	switch *mode {
	case "publish":
		in := io.Reader(os.Stdin)
		if *file != "-" {
			f, err := os.Open(*file)
			if err != nil {
				log.Fatalf("open %s: %v", *file, err)
			}
			defer f.Close()
			in = f
		}
		js, err := jetstream.New(nc)
		if err != nil {
			log.Fatalf("jetstream: %v", err)
		}
		n, err := publish(ctx, js, in, *subject, *interval, lg)
		if err != nil {
			log.Fatalf("replay stopped after %d records: %v", n, err)
		}
		lg.Info("replay finished", slog.Int("records", n))
	case "watch":
		if err := watch(ctx, nc, cfg.NATSOutputPrefix+".>", os.Stdout); err != nil {
			log.Fatalf("watch: %v", err)
		}
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
}

// parseLine reads one replay record. Blank lines and # comments yield ok=false.
func parseLine(line string) (events.Envelope, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return events.Envelope{}, false, nil
	}
	var r record
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return events.Envelope{}, false, err
	}
	payload := []byte(r.Payload)
	if string(payload) == "null" {
		payload = nil
	}
	return events.Envelope{Payload: payload, EventTimeMs: r.EventTimeMs, Key: r.Key, Schema: r.Schema}, true, nil
}

func subjectFor(prefix string, env events.Envelope) string {
	kind := "unknown"
	if env.Schema != "" {
		kind = strings.ToLower(string(env.Schema))
	}
	key := env.Key
	if key == "" {
		key = "_"
	}
	return fmt.Sprintf("%s.%s.%s", strings.TrimSuffix(prefix, "."), kind, key)
}

func publish(ctx context.Context, js jetstream.JetStream, in io.Reader, prefix string, pause time.Duration, lg *slog.Logger) (int, error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for line := 1; sc.Scan(); line++ {
		env, ok, err := parseLine(sc.Text())
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if !ok {
			continue
		}
		subject := subjectFor(prefix, env)
		if _, err := js.PublishMsg(ctx, broker.NewMsg(subject, env)); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		lg.Debug("replayed", slog.String("subject", subject), slog.String("schema", string(env.Schema)))
		n++
		if pause > 0 {
			select {
			case <-ctx.Done():
				return n, ctx.Err()
			case <-time.After(pause):
			}
		}
	}
	return n, sc.Err()
}

func watch(ctx context.Context, nc *nats.Conn, subject string, out io.Writer) error {
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		line, err := render(msg)
		if err != nil {
			fmt.Fprintf(out, "# %s: %v\n", msg.Subject, err)
			return
		}
		fmt.Fprintln(out, line)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	<-ctx.Done()
	return nil
}

// render prints one published TripUpdate as a single JSON line.
func render(msg *nats.Msg) (string, error) {
	var fm gtfs.FeedMessage
	if err := proto.Unmarshal(msg.Data, &fm); err != nil {
		return "", err
	}
	b, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(&fm)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`{"subject":%q,"key":%q,"eventTimeMs":%q,"feed":%s}`,
		msg.Subject, msg.Header.Get(broker.HeaderKey), msg.Header.Get(broker.HeaderEventTime), b), nil
}
