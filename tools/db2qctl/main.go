package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	db2qgrpc "github.com/db2q/db2q/grpc"
	"github.com/db2q/db2q/hlc"
	"github.com/db2q/db2q/id"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "create":
		err = runCreate(args)
	case "drop":
		err = runDrop(args)
	case "list":
		err = runList(args)
	case "push":
		err = runPush(args)
	case "next":
		err = runNext(args)
	case "wait":
		err = runWait(args)
	case "keys":
		err = runKeys(args)
	case "count":
		err = runCount(args)
	case "bench":
		err = runBench(args)
	case "version":
		fmt.Printf("db2qctl version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`db2qctl - db2q command line client

Usage:
  db2qctl <command> [options]

Commands:
  create    Create a topic
  drop      Drop a topic
  list      List topics
  push      Append a value to a topic
  next      Read the record after a key
  wait      Wait for the record after a key
  keys      Stream keys of a topic
  count     Count records (--exact uses the count service)
  bench     Run a push/read benchmark
  version   Print version
  help      Show this help

Common Options:
  --addr          Server address (default: 127.0.0.1:50051)
  --compression   zstd level 0-4 (default: 1)
  --timeout       Call timeout (default: 10s)
  --topic         Topic id, 32 hex digits (dashes allowed)

Examples:
  db2qctl create --topic=0123456789abcdef0123456789abcdef
  db2qctl push --topic=0123456789abcdef0123456789abcdef --value=hello
  db2qctl wait --topic=0123456789abcdef0123456789abcdef --previous=-1 --wait-timeout=5s
  db2qctl bench --topic=0123456789abcdef0123456789abcdef --threads=8 --duration=30s`)
}

// commonFlags are shared by every subcommand
type commonFlags struct {
	addr        string
	compression int
	timeout     time.Duration
	topic       string
}

func newFlagSet(name string, c *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&c.addr, "addr", "127.0.0.1:50051", "Server address")
	fs.IntVar(&c.compression, "compression", 1, "zstd compression level (0 disables)")
	fs.DurationVar(&c.timeout, "timeout", 10*time.Second, "Call timeout")
	fs.StringVar(&c.topic, "topic", "", "Topic id")
	return fs
}

func (c *commonFlags) connect() (*db2qgrpc.Client, error) {
	db2qgrpc.RegisterZstdCompressor(c.compression)
	return db2qgrpc.NewClient(db2qgrpc.ClientConfig{
		Address:          c.addr,
		CompressionLevel: c.compression,
	})
}

func (c *commonFlags) topicID() (*id.UUID, error) {
	if c.topic == "" {
		return nil, fmt.Errorf("--topic is required")
	}
	t, err := id.ParseLoose(c.topic)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *commonFlags) context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

var requestIDs = id.NewHLCGenerator(hlc.NewClock(uint64(os.Getpid())))

func newRequestID() *id.UUID {
	rid := requestIDs.Next()
	return &rid
}

func runCreate(args []string) error {
	var c commonFlags
	fs := newFlagSet("create", &c)
	if err := fs.Parse(args); err != nil {
		return err
	}
	topic, err := c.topicID()
	if err != nil {
		return err
	}
	client, err := c.connect()
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := c.context()
	defer cancel()

	resp, err := client.CreateTopic(ctx, &db2qgrpc.CreateTopicRequest{RequestID: newRequestID(), TopicID: topic})
	if err != nil {
		return err
	}
	fmt.Printf("created %s at %s\n", topic, resp.Created.Format(time.RFC3339Nano))
	return nil
}

func runDrop(args []string) error {
	var c commonFlags
	fs := newFlagSet("drop", &c)
	if err := fs.Parse(args); err != nil {
		return err
	}
	topic, err := c.topicID()
	if err != nil {
		return err
	}
	client, err := c.connect()
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := c.context()
	defer cancel()

	resp, err := client.DropTopic(ctx, &db2qgrpc.DropTopicRequest{RequestID: newRequestID(), TopicID: topic})
	if err != nil {
		return err
	}
	fmt.Printf("dropped %s at %s\n", topic, resp.Dropped.Format(time.RFC3339Nano))
	return nil
}

func runList(args []string) error {
	var c commonFlags
	fs := newFlagSet("list", &c)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := c.connect()
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := c.context()
	defer cancel()

	resp, err := client.ListTopics(ctx, &db2qgrpc.ListTopicsRequest{RequestID: newRequestID()})
	if err != nil {
		return err
	}
	for _, t := range resp.Topics {
		fmt.Println(t)
	}
	return nil
}

func runPush(args []string) error {
	var c commonFlags
	var value string
	var stdin bool
	fs := newFlagSet("push", &c)
	fs.StringVar(&value, "value", "", "Value to push")
	fs.BoolVar(&stdin, "stdin", false, "Read the value from standard input")
	if err := fs.Parse(args); err != nil {
		return err
	}
	topic, err := c.topicID()
	if err != nil {
		return err
	}

	payload := []byte(value)
	if stdin {
		payload, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	client, err := c.connect()
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := c.context()
	defer cancel()

	resp, err := client.PushBack(ctx, &db2qgrpc.PushBackRequest{RequestID: newRequestID(), TopicID: topic, Value: payload})
	if err != nil {
		return err
	}
	fmt.Printf("pushed %d bytes at %s\n", len(payload), resp.PushedAt.Format(time.RFC3339Nano))
	return nil
}

func runNext(args []string) error {
	var c commonFlags
	var previous int64
	fs := newFlagSet("next", &c)
	fs.Int64Var(&previous, "previous", -1, "Previous key (negative reads the first record)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	topic, err := c.topicID()
	if err != nil {
		return err
	}
	client, err := c.connect()
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := c.context()
	defer cancel()

	resp, err := client.Next(ctx, &db2qgrpc.NextRequest{RequestID: newRequestID(), TopicID: topic, Previous: previous})
	if err != nil {
		return err
	}
	fmt.Printf("%d\t%s\n", resp.Key, resp.Value)
	return nil
}

func runWait(args []string) error {
	var c commonFlags
	var previous int64
	var interval, waitTimeout time.Duration
	fs := newFlagSet("wait", &c)
	fs.Int64Var(&previous, "previous", -1, "Previous key (negative waits for the first record)")
	fs.DurationVar(&interval, "interval", 0, "Poll interval (0 uses the server default)")
	fs.DurationVar(&waitTimeout, "wait-timeout", 0, "Wait timeout (0 uses the server default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	topic, err := c.topicID()
	if err != nil {
		return err
	}
	client, err := c.connect()
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := c.context()
	defer cancel()

	req := &db2qgrpc.WaitNextRequest{RequestID: newRequestID(), TopicID: topic, Previous: previous}
	if interval > 0 {
		req.Interval = db2qgrpc.Ptr(interval)
	}
	if waitTimeout > 0 {
		req.Timeout = db2qgrpc.Ptr(waitTimeout)
	}

	resp, err := client.WaitNext(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("%d\t%s\t(elapsed %s, retried %d)\n", resp.Key, resp.Value, resp.Elapsed, resp.Retried)
	return nil
}

func runKeys(args []string) error {
	var c commonFlags
	var maxKeys uint64
	fs := newFlagSet("keys", &c)
	fs.Uint64Var(&maxKeys, "max", 100, "Maximum number of keys")
	if err := fs.Parse(args); err != nil {
		return err
	}
	topic, err := c.topicID()
	if err != nil {
		return err
	}
	client, err := c.connect()
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := c.context()
	defer cancel()

	stream, err := client.Keys(ctx, &db2qgrpc.KeysRequest{RequestID: newRequestID(), TopicID: topic, MaxKeys: maxKeys})
	if err != nil {
		return err
	}
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(resp.Key)
	}
}

func runCount(args []string) error {
	var c commonFlags
	var exact bool
	fs := newFlagSet("count", &c)
	fs.BoolVar(&exact, "exact", false, "Use the count service")
	if err := fs.Parse(args); err != nil {
		return err
	}
	topic, err := c.topicID()
	if err != nil {
		return err
	}
	client, err := c.connect()
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := c.context()
	defer cancel()

	var n uint64
	if exact {
		resp, err := client.ExactCount(ctx, &db2qgrpc.ExactCountRequest{RequestID: newRequestID(), TopicID: topic})
		if err != nil {
			return err
		}
		n = resp.Count
	} else {
		resp, err := client.Count(ctx, &db2qgrpc.CountRequest{RequestID: newRequestID(), TopicID: topic})
		if err != nil {
			return err
		}
		n = resp.Count
	}
	fmt.Println(n)
	return nil
}

// parseTopics splits a comma separated topic list
func parseTopics(s string) ([]id.UUID, error) {
	var topics []id.UUID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := id.ParseLoose(part)
		if err != nil {
			return nil, fmt.Errorf("invalid topic %q: %w", part, err)
		}
		topics = append(topics, t)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}
	return topics, nil
}
