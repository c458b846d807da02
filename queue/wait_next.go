package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/notify"
	"github.com/db2q/db2q/storage"
	"github.com/db2q/db2q/telemetry"
)

// TimeoutReason is the ErrorInfo reason attached to wait-next timeouts
const TimeoutReason = "WAIT_NEXT_TIMEOUT"

// poller runs one wait-next session on a dedicated connection
type poller struct {
	session  *storage.Session
	table    string
	topic    id.UUID
	request  id.UUID
	previous int64
	interval time.Duration
	timeout  time.Duration

	// Optional push signals; nil when no hub is wired
	wake        <-chan notify.Signal
	unsubscribe func()

	out      chan WaitNextItem
	entry    *sessionEntry
	sessions *Sessions
}

func (p *poller) run(ctx context.Context) {
	start := time.Now()
	var retried uint64
	outcome := "error"

	defer func() {
		if p.unsubscribe != nil {
			p.unsubscribe()
		}
		p.session.Close()
		p.sessions.unregister(p.entry)
		close(p.out)

		telemetry.WaitNextTotal.With(outcome).Inc()
		telemetry.WaitNextRetries.Observe(float64(retried))
		telemetry.ObserveSince(telemetry.WaitNextSeconds, start)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	first := true
	for {
		if time.Since(start) >= p.timeout {
			outcome = "timeout"
			p.send(ctx, WaitNextItem{Err: p.timeoutError(retried), Retried: retried, Elapsed: time.Since(start)})
			return
		}

		// The first poll happens immediately; later polls wait for a tick or a push signal
		if !first {
			select {
			case <-ticker.C:
			case _, ok := <-p.wake:
				if !ok {
					p.wake = nil
				}
			case <-ctx.Done():
				outcome = "cancelled"
				log.Debug().
					Str("request_id", p.request.String()).
					Str("topic", p.topic.String()).
					Uint64("retried", retried).
					Msg("Wait-next consumer went away")
				return
			}
		}
		first = false

		rec, err := next(ctx, p.session, p.table, p.previous)
		if err == nil {
			outcome = "found"
			p.send(ctx, WaitNextItem{Record: rec, Elapsed: time.Since(start), Retried: retried})
			return
		}
		if status.Code(err) != codes.NotFound {
			p.send(ctx, WaitNextItem{Err: err, Elapsed: time.Since(start), Retried: retried})
			return
		}

		retried++
		p.entry.progress.Store(retried)
	}
}

// send delivers the single result; a departed consumer is only logged
func (p *poller) send(ctx context.Context, item WaitNextItem) {
	select {
	case p.out <- item:
	case <-ctx.Done():
		log.Warn().
			Str("request_id", p.request.String()).
			Str("topic", p.topic.String()).
			Msg("Failed to deliver wait-next result: consumer disconnected")
	}
}

func (p *poller) timeoutError(retried uint64) error {
	st := status.Newf(codes.DeadlineExceeded, "timeout. table=%s, retried=%d", p.table, retried)
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason: TimeoutReason,
		Domain: "db2q",
		Metadata: map[string]string{
			"table":   p.table,
			"retried": strconv.FormatUint(retried, 10),
		},
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// RetriedFromError extracts the retry count attached to a wait-next timeout
func RetriedFromError(err error) (uint64, bool) {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.DeadlineExceeded {
		return 0, false
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.Reason != TimeoutReason {
			continue
		}
		n, err := strconv.ParseUint(info.Metadata["retried"], 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
