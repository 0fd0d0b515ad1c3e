package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/ducminhle1904/risk-orchestrator/cmd/common"
	"github.com/ducminhle1904/risk-orchestrator/internal/config"
	"github.com/ducminhle1904/risk-orchestrator/internal/ingress"
	"github.com/ducminhle1904/risk-orchestrator/pkg/types"
)

func main() {
	flags := common.RegisterCommonFlags()
	var (
		input   = flag.String("input", "", "JSONL file with one signal per line (default: stdin)")
		topic   = flag.String("topic", "", "Signal topic (default: ingress.kafka.signal_topic from config)")
		perSec  = flag.Float64("rate", 5, "Signals per second")
		restamp = flag.Bool("restamp", true, "Set each signal's timestamp to now so it is not expired on arrival")
		dryRun  = flag.Bool("dry-run", false, "Print the signals instead of publishing")
	)
	flag.Parse()
	flags.HandleVersion("signal-replay")

	cfg, err := config.Parse(*flags.ConfigFile, *flags.EnvFile)
	if err != nil {
		common.Fatal("Failed to load config: %v", err)
	}
	if *topic == "" {
		*topic = cfg.Ingress.Kafka.SignalTopic
	}

	var r io.Reader = os.Stdin
	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			common.Fatal("open %s: %v", *input, err)
		}
		defer f.Close()
		r = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publish func(types.Signal) error
	if *dryRun {
		publish = func(sig types.Signal) error {
			fmt.Printf("%s %s %s conf=%.2f producer=%s\n", sig.ID, sig.Symbol, sig.Direction, sig.Confidence, sig.Producer)
			return nil
		}
	} else {
		pub, err := ingress.NewKafkaPublisher(cfg.Ingress.Kafka.Brokers, *topic)
		if err != nil {
			common.Fatal("%v", err)
		}
		defer pub.Close()
		publish = func(sig types.Signal) error {
			_, _, err := pub.PublishSignal(sig)
			return err
		}
	}

	sent, err := replay(ctx, r, rate.NewLimiter(rate.Limit(*perSec), 1), *restamp, publish)
	fmt.Printf("📡 %d signals sent to %s\n", sent, *topic)
	if err != nil {
		common.Fatal("%v", err)
	}
}

func replay(ctx context.Context, r io.Reader, limiter *rate.Limiter, restamp bool, publish func(types.Signal) error) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sent := 0
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var sig types.Signal
		if err := json.Unmarshal([]byte(text), &sig); err != nil {
			return sent, fmt.Errorf("line %d: %w", line, err)
		}
		if restamp {
			sig.Timestamp = time.Now().UTC()
		}
		if err := limiter.Wait(ctx); err != nil {
			return sent, nil
		}
		if err := publish(sig); err != nil {
			return sent, fmt.Errorf("line %d: %w", line, err)
		}
		sent++
	}
	return sent, scanner.Err()
}
