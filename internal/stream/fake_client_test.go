package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeClient is an in-memory stream substrate with just enough consumer-group
// semantics for the tests: delivery offsets, per-consumer pending lists, and
// idle-based claiming.
type fakeClient struct {
	mu      sync.Mutex
	streams map[string][]redis.XMessage
	groups  map[string]*fakeGroup
	nextID  int

	// readErr, when set, is returned by the next new-entry read.
	readErr error
	// addErrStreams holds stream names whose XAdd fails.
	addErrStreams map[string]bool
}

type fakeGroup struct {
	delivered int
	// pending maps entry ID to the consumer that owns it and when it was
	// last delivered.
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	consumer    string
	deliveredAt time.Time
	msg         redis.XMessage
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		streams:       make(map[string][]redis.XMessage),
		groups:        make(map[string]*fakeGroup),
		addErrStreams: make(map[string]bool),
	}
}

func (f *fakeClient) groupKey(stream, group string) string { return stream + "/" + group }

func (f *fakeClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErrStreams[a.Stream] {
		return redis.NewStringResult("", fmt.Errorf("xadd %s refused", a.Stream))
	}
	f.nextID++
	id := fmt.Sprintf("%d-0", f.nextID)
	f.streams[a.Stream] = append(f.streams[a.Stream], redis.XMessage{ID: id, Values: a.Values.(map[string]interface{})})
	return redis.NewStringResult(id, nil)
}

func (f *fakeClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.groupKey(stream, group)
	if _, ok := f.groups[key]; ok {
		return redis.NewStatusResult("", fmt.Errorf("BUSYGROUP Consumer Group name already exists"))
	}
	f.groups[key] = &fakeGroup{pending: make(map[string]*pendingEntry)}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	stream, id := a.Streams[0], a.Streams[1]
	g := f.groups[f.groupKey(stream, a.Group)]
	cmd := redis.NewXStreamSliceCmd(ctx)
	if g == nil {
		cmd.SetErr(fmt.Errorf("NOGROUP no such group"))
		return cmd
	}

	var msgs []redis.XMessage
	if id == ">" {
		if f.readErr != nil {
			err := f.readErr
			f.readErr = nil
			cmd.SetErr(err)
			return cmd
		}
		all := f.streams[stream]
		for g.delivered < len(all) && int64(len(msgs)) < a.Count {
			msg := all[g.delivered]
			g.delivered++
			g.pending[msg.ID] = &pendingEntry{consumer: a.Consumer, deliveredAt: time.Now(), msg: msg}
			msgs = append(msgs, msg)
		}
	} else {
		for _, pe := range g.pending {
			if pe.consumer == a.Consumer {
				msgs = append(msgs, pe.msg)
			}
			if int64(len(msgs)) >= a.Count {
				break
			}
		}
	}

	if len(msgs) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal([]redis.XStream{{Stream: stream, Messages: msgs}})
	return cmd
}

func (f *fakeClient) XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.groups[f.groupKey(a.Stream, a.Group)]
	cmd := redis.NewXAutoClaimCmd(ctx)
	if g == nil {
		cmd.SetErr(fmt.Errorf("NOGROUP no such group"))
		return cmd
	}
	var msgs []redis.XMessage
	now := time.Now()
	for _, pe := range g.pending {
		if now.Sub(pe.deliveredAt) >= a.MinIdle {
			pe.consumer = a.Consumer
			pe.deliveredAt = now
			msgs = append(msgs, pe.msg)
		}
		if int64(len(msgs)) >= a.Count {
			break
		}
	}
	cmd.SetVal(msgs, "0-0")
	return cmd
}

func (f *fakeClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.groups[f.groupKey(stream, group)]
	var acked int64
	for _, id := range ids {
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			acked++
		}
	}
	return redis.NewIntResult(acked, nil)
}

// markIdle backdates every pending entry so it qualifies for claiming.
func (f *fakeClient) markIdle(stream, group string, idle time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.groups[f.groupKey(stream, group)]
	for _, pe := range g.pending {
		pe.deliveredAt = pe.deliveredAt.Add(-idle)
	}
}

func (f *fakeClient) pendingCount(stream, group string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.groups[f.groupKey(stream, group)].pending)
}
