package queue

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/db2q/db2q/id"
	"github.com/db2q/db2q/storage"
	"github.com/db2q/db2q/telemetry"
)

// keyStreamer forwards at most limit keys through a capacity-1 channel
type keyStreamer struct {
	session *storage.Session
	table   string
	limit   uint64
	request id.UUID
	topic   id.UUID

	out      chan KeyItem
	entry    *sessionEntry
	sessions *Sessions
}

func (k *keyStreamer) run(ctx context.Context) {
	defer func() {
		k.session.Close()
		k.sessions.unregister(k.entry)
		close(k.out)
	}()

	cursor, err := k.session.Keys(ctx, k.table, k.limit)
	if err != nil {
		k.send(ctx, KeyItem{Err: err})
		return
	}
	defer cursor.Close()

	var sent uint64
	for {
		key, ok, err := cursor.Next()
		if err != nil {
			k.send(ctx, KeyItem{Err: err})
			return
		}
		if !ok {
			return
		}
		if !k.send(ctx, KeyItem{Key: key}) {
			return
		}
		sent++
		k.entry.progress.Store(sent)
		telemetry.KeysStreamedTotal.Inc()
	}
}

// send blocks until the consumer takes the item; false means the consumer is gone
func (k *keyStreamer) send(ctx context.Context, item KeyItem) bool {
	select {
	case k.out <- item:
		return true
	case <-ctx.Done():
		log.Warn().
			Str("request_id", k.request.String()).
			Str("topic", k.topic.String()).
			Msg("Failed to send key: consumer disconnected")
		return false
	}
}
