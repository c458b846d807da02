package main

import (
	"context"
	"crypto/rand"
	"fmt"
	mrand "math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	db2qgrpc "github.com/db2q/db2q/grpc"
	"github.com/db2q/db2q/id"
)

// BenchConfig holds bench options
type BenchConfig struct {
	Topics     []id.UUID
	Threads    int
	Operations int
	Duration   time.Duration
	ValueSize  int
	ReadPct    int
}

// Validate checks bench options
func (c *BenchConfig) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("threads must be >= 1")
	}
	if c.Operations < 1 && c.Duration <= 0 {
		return fmt.Errorf("either operations or duration must be set")
	}
	if c.ValueSize < 0 {
		return fmt.Errorf("value size must be >= 0")
	}
	if c.ReadPct < 0 || c.ReadPct > 100 {
		return fmt.Errorf("read percentage must be between 0 and 100")
	}
	return nil
}

func runBench(args []string) error {
	var c commonFlags
	bc := &BenchConfig{}
	fs := newFlagSet("bench", &c)
	fs.IntVar(&bc.Threads, "threads", 8, "Number of concurrent workers")
	fs.IntVar(&bc.Operations, "operations", 10000, "Total operations to execute")
	fs.DurationVar(&bc.Duration, "duration", 0, "Duration to run, overrides --operations")
	fs.IntVar(&bc.ValueSize, "value-size", 128, "Pushed value size in bytes")
	fs.IntVar(&bc.ReadPct, "read-pct", 50, "Percentage of next calls")
	if err := fs.Parse(args); err != nil {
		return err
	}

	parsed, err := parseTopics(c.topic)
	if err != nil {
		return err
	}
	bc.Topics = parsed
	if err := bc.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := c.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if bc.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bc.Duration)
		defer cancel()
	}

	fmt.Printf("Benchmarking %d topic(s) with %d workers, %d%% reads\n", len(bc.Topics), bc.Threads, bc.ReadPct)

	stats := NewStats()
	reportCtx, stopReport := context.WithCancel(ctx)
	go reportProgress(reportCtx, stats)

	start := time.Now()
	runWorkers(ctx, client, bc, c.timeout, stats)
	stopReport()

	stats.PrintFinal(time.Since(start))
	return nil
}

// runWorkers splits the operation budget across workers and waits for them
func runWorkers(ctx context.Context, client *db2qgrpc.Client, bc *BenchConfig, callTimeout time.Duration, stats *Stats) {
	var wg sync.WaitGroup
	perWorker := bc.Operations / bc.Threads
	if bc.Duration > 0 {
		perWorker = 0
	}

	for i := 0; i < bc.Threads; i++ {
		w := &benchWorker{
			client:  client,
			config:  bc,
			stats:   stats,
			timeout: callTimeout,
			rng:     mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(i))),
			cursors: make(map[id.UUID]int64, len(bc.Topics)),
			budget:  perWorker,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}
	wg.Wait()
}

// benchWorker pushes and reads with its own cursor per topic
type benchWorker struct {
	client  *db2qgrpc.Client
	config  *BenchConfig
	stats   *Stats
	timeout time.Duration
	rng     *mrand.Rand
	cursors map[id.UUID]int64
	budget  int // 0 runs until ctx is done
}

func (w *benchWorker) run(ctx context.Context) {
	value := make([]byte, w.config.ValueSize)
	for done := 0; w.budget == 0 || done < w.budget; done++ {
		if ctx.Err() != nil {
			return
		}

		topic := w.config.Topics[w.rng.Intn(len(w.config.Topics))]
		if w.rng.Intn(100) < w.config.ReadPct {
			w.next(ctx, topic)
		} else {
			_, _ = rand.Read(value)
			w.push(ctx, topic, value)
		}
	}
}

func (w *benchWorker) push(ctx context.Context, topic id.UUID, value []byte) {
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	_, err := w.client.PushBack(callCtx, &db2qgrpc.PushBackRequest{
		RequestID: newRequestID(),
		TopicID:   &topic,
		Value:     value,
	})
	if err != nil {
		if ctx.Err() == nil {
			w.stats.RecordError(OpPush)
		}
		return
	}
	w.stats.RecordOp(OpPush, time.Since(start))
}

func (w *benchWorker) next(ctx context.Context, topic id.UUID) {
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	previous, ok := w.cursors[topic]
	if !ok {
		previous = -1
	}

	start := time.Now()
	resp, err := w.client.Next(callCtx, &db2qgrpc.NextRequest{
		RequestID: newRequestID(),
		TopicID:   &topic,
		Previous:  previous,
	})
	switch {
	case err == nil:
		w.cursors[topic] = resp.Key
		w.stats.RecordOp(OpNext, time.Since(start))
	case status.Code(err) == codes.NotFound:
		w.stats.RecordEmpty()
		w.stats.RecordOp(OpNext, time.Since(start))
	case ctx.Err() == nil:
		w.stats.RecordError(OpNext)
	}
}

// reportProgress prints real-time progress every second.
func reportProgress(ctx context.Context, stats *Stats) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var last Snapshot
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := stats.GetSnapshot()
			elapsed := time.Since(startTime)

			fmt.Printf("[%5.0fs] ops/sec: %6d | total: %8d | pushes: %8d | empty reads: %6d | errors: %4d | throughput: %.1f ops/sec\n",
				elapsed.Seconds(),
				snapshot.Total()-last.Total(),
				snapshot.Total(),
				snapshot.PushOps,
				snapshot.Empty,
				snapshot.Errors,
				float64(snapshot.Total())/elapsed.Seconds(),
			)

			last = snapshot
		}
	}
}
