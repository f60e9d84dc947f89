package main

import (
	"context"
	"fmt"
	"log"
	"time"

	invedge "github.com/fieldlink/invedge"
)

// tapTransport wraps the default cloud transport and forwards a copy of
// every outgoing upload body onto a channel for local fanout, without
// disturbing the real upload path.
type tapTransport struct {
	inner invedge.Transport
	tap   chan<- []byte
}

func (t *tapTransport) Post(ctx context.Context, url string, headers map[string]string, body []byte) (int, []byte, error) {
	cp := make([]byte, len(body))
	copy(cp, body)
	select {
	case t.tap <- cp:
	default:
		// drop if nobody is reading; the tap is a side-channel, not the
		// upload path itself.
	}
	return t.inner.Post(ctx, url, headers, body)
}

func main() {
	cfg, err := invedge.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	bodies := make(chan []byte, 32)
	defer close(bodies)

	go fanoutWorker("uplink-tap", bodies)

	base := invedge.DefaultCloudTransport(cfg)
	rt, err := invedge.NewRuntime(cfg, invedge.WithCloudTransport(&tapTransport{inner: base, tap: bodies}))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, bodies <-chan []byte) {
	for body := range bodies {
		fmt.Printf("[%s] tapped %d bytes at %s\n", name, len(body), time.Now().Format(time.RFC3339))
		// TODO: forward to a downstream archive or local dashboard.
	}
}
