package main

import (
	"context"
	"fmt"
	"log"
	"time"

	invedge "github.com/fieldlink/invedge"
)

// eventCallback is invoked for every structured log line the runtime emits.
type eventCallback func(level, msg string, fields []invedge.Field)

// callbackObs forwards every log call to a user function instead of writing
// through the default Prometheus/stdout adapter.
type callbackObs struct {
	fn eventCallback
}

func (o *callbackObs) LogInfo(msg string, fields ...invedge.Field) {
	o.fn("info", msg, fields)
}

func (o *callbackObs) LogError(msg string, err error, fields ...invedge.Field) {
	o.fn("error", fmt.Sprintf("%s: %v", msg, err), fields)
}

func (o *callbackObs) LogCritical(msg string, err error, fields ...invedge.Field) {
	o.fn("critical", fmt.Sprintf("%s: %v", msg, err), fields)
}

func (o *callbackObs) IncCounter(name string, v float64)          { o.fn("counter", name, []invedge.Field{{Key: "value", Value: v}}) }
func (o *callbackObs) ObserveLatency(name string, seconds float64) {
	o.fn("latency", name, []invedge.Field{{Key: "seconds", Value: seconds}})
}
func (o *callbackObs) SetGauge(name string, v float64) {
	o.fn("gauge", name, []invedge.Field{{Key: "value", Value: v}})
}

func main() {
	cfg, err := invedge.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs := &callbackObs{fn: func(level, msg string, fields []invedge.Field) {
		fmt.Printf("%s [%s] %s %v\n", time.Now().Format(time.RFC3339Nano), level, msg, fields)
	}}

	rt, err := invedge.NewRuntime(cfg, invedge.WithObservability(obs))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
