// Package bus connects the dispatcher to execution engine agents and the
// provisioner through etcd.
//
// Key layout under the configured prefix:
//
//	<prefix>/engines/<ee_id>/commands/<epid>/<round>/<op>  agent commands (written here)
//	<prefix>/heartbeats/<ee_id>                            agent heartbeats (watched)
//	<prefix>/nodes/<node_id>                               node lifecycle states (watched)
package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/mattjoyce/conductor/internal/events"
	"github.com/mattjoyce/conductor/internal/pd"
	"github.com/mattjoyce/conductor/internal/protocol"
)

const DefaultPrefix = "/conductor"

var _ pd.AgentClient = (*Bus)(nil)

// Sink receives decoded feed messages. *pd.Core satisfies it.
type Sink interface {
	EEHeartbeat(ctx context.Context, sender string, beat pd.Heartbeat) error
	DTState(ctx context.Context, ns pd.NodeState) error
}

type Options struct {
	Endpoints      []string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Prefix         string
}

// Bus implements pd.AgentClient on top of etcd and feeds heartbeats and node
// states back into a Sink.
type Bus struct {
	kv             clientv3.KV
	watcher        clientv3.Watcher
	closer         func() error
	prefix         string
	requestTimeout time.Duration
	feeds          Publisher
	logger         *slog.Logger
	now            func() time.Time
}

// Dial connects to etcd.
func Dial(opts Options, logger *slog.Logger) (*Bus, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints are empty")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd %v: %w", opts.Endpoints, err)
	}
	b := New(cli, cli, opts.Prefix, opts.RequestTimeout, logger)
	b.closer = cli.Close
	return b, nil
}

// New builds a Bus over an existing KV and Watcher.
func New(kv clientv3.KV, watcher clientv3.Watcher, prefix string, requestTimeout time.Duration, logger *slog.Logger) *Bus {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		kv:             kv,
		watcher:        watcher,
		prefix:         strings.TrimSuffix(prefix, "/"),
		requestTimeout: requestTimeout,
		logger:         logger.With("component", "bus"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// PublishFeeds makes Run announce every node state and heartbeat the sink
// accepts as "node.state" and "engine.heartbeat" events on pub.
func (b *Bus) PublishFeeds(pub Publisher) {
	b.feeds = pub
}

func (b *Bus) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// CommandKey is unique per (process, round, op), so a cleanup for a dead
// round never overwrites the dispatch of the next one.
func (b *Bus) CommandKey(eeID, epid string, round int, op string) string {
	return fmt.Sprintf("%s/engines/%s/commands/%s/%d/%s", b.prefix, eeID, epid, round, op)
}

func (b *Bus) heartbeatPrefix() string { return b.prefix + "/heartbeats/" }
func (b *Bus) nodePrefix() string      { return b.prefix + "/nodes/" }

func (b *Bus) Dispatch(ctx context.Context, eeID, epid string, round int, spec json.RawMessage) error {
	return b.send(ctx, &protocol.AgentCommand{Op: protocol.OpDispatch, EEID: eeID, EPID: epid, Round: round, Spec: spec})
}

func (b *Bus) Terminate(ctx context.Context, eeID, epid string, round int) error {
	return b.send(ctx, &protocol.AgentCommand{Op: protocol.OpTerminate, EEID: eeID, EPID: epid, Round: round})
}

func (b *Bus) Cleanup(ctx context.Context, eeID, epid string, round int) error {
	return b.send(ctx, &protocol.AgentCommand{Op: protocol.OpCleanup, EEID: eeID, EPID: epid, Round: round})
}

func (b *Bus) send(ctx context.Context, cmd *protocol.AgentCommand) error {
	cmd.Protocol = protocol.Version
	cmd.IssuedAt = b.now()

	var buf bytes.Buffer
	if err := protocol.EncodeCommand(&buf, cmd); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	key := b.CommandKey(cmd.EEID, cmd.EPID, cmd.Round, cmd.Op)
	if _, err := b.kv.Put(ctx, key, strings.TrimSpace(buf.String())); err != nil {
		return fmt.Errorf("put %s command %s: %w", cmd.Op, key, err)
	}
	b.logger.Debug("agent command written", "op", cmd.Op, "ee_id", cmd.EEID, "epid", cmd.EPID, "round", cmd.Round)
	return nil
}

// Run replays the current node and heartbeat keys into sink and then follows
// changes until ctx is cancelled or a watch fails. Undecodable values are
// logged and skipped; sink errors are logged and do not stop the feed.
func (b *Bus) Run(ctx context.Context, sink Sink) error {
	rev, err := b.replay(ctx, sink)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	nodes := b.watcher.Watch(ctx, b.nodePrefix(), clientv3.WithPrefix(), clientv3.WithRev(rev+1))
	beats := b.watcher.Watch(ctx, b.heartbeatPrefix(), clientv3.WithPrefix(), clientv3.WithRev(rev+1))
	b.logger.Info("watching feeds", "prefix", b.prefix, "revision", rev+1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case resp, ok := <-nodes:
			if err := b.watchDone(ctx, "nodes", ok, resp); err != nil {
				return err
			}
			for _, ev := range resp.Events {
				if ev.Type == clientv3.EventTypePut {
					b.applyNode(ctx, sink, ev.Kv.Key, ev.Kv.Value)
				}
			}

		case resp, ok := <-beats:
			if err := b.watchDone(ctx, "heartbeats", ok, resp); err != nil {
				return err
			}
			for _, ev := range resp.Events {
				if ev.Type == clientv3.EventTypePut {
					b.applyHeartbeat(ctx, sink, ev.Kv.Key, ev.Kv.Value)
				}
			}
		}
	}
}

func (b *Bus) watchDone(ctx context.Context, feed string, ok bool, resp clientv3.WatchResponse) error {
	if !ok {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("watch %s: channel closed", feed)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("watch %s: %w", feed, err)
	}
	return nil
}

// replay applies the nodes first so heartbeats find their node registered.
func (b *Bus) replay(ctx context.Context, sink Sink) (int64, error) {
	gctx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	nodes, err := b.kv.Get(gctx, b.nodePrefix(), clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("list nodes: %w", err)
	}
	for _, kv := range nodes.Kvs {
		b.applyNode(ctx, sink, kv.Key, kv.Value)
	}

	beats, err := b.kv.Get(gctx, b.heartbeatPrefix(), clientv3.WithPrefix(), clientv3.WithRev(nodes.Header.Revision))
	if err != nil {
		return 0, fmt.Errorf("list heartbeats: %w", err)
	}
	for _, kv := range beats.Kvs {
		b.applyHeartbeat(ctx, sink, kv.Key, kv.Value)
	}

	b.logger.Info("replayed feeds", "nodes", len(nodes.Kvs), "heartbeats", len(beats.Kvs))
	return nodes.Header.Revision, nil
}

func (b *Bus) applyNode(ctx context.Context, sink Sink, key, value []byte) {
	msg, err := protocol.DecodeNodeState(bytes.NewReader(value))
	if err != nil {
		b.logger.Warn("skipping undecodable node state", "key", string(key), "error", err)
		return
	}
	if err := sink.DTState(ctx, msg.NodeState()); err != nil {
		b.logger.Error("node state rejected", "key", string(key), "node_id", msg.NodeID, "error", err)
		return
	}
	b.announce(events.TypeNodeState, msg)
}

func (b *Bus) applyHeartbeat(ctx context.Context, sink Sink, key, value []byte) {
	msg, err := protocol.DecodeHeartbeat(bytes.NewReader(value))
	if err != nil {
		b.logger.Warn("skipping undecodable heartbeat", "key", string(key), "error", err)
		return
	}
	if id := strings.TrimPrefix(string(key), b.heartbeatPrefix()); id != msg.SenderID {
		b.logger.Warn("heartbeat key does not match sender", "key", string(key), "sender_id", msg.SenderID)
	}
	if err := sink.EEHeartbeat(ctx, msg.SenderID, msg.Heartbeat()); err != nil {
		b.logger.Error("heartbeat rejected", "key", string(key), "ee_id", msg.SenderID, "error", err)
		return
	}
	b.announce(events.TypeHeartbeat, msg)
}

func (b *Bus) announce(eventType string, msg any) {
	if b.feeds != nil {
		b.feeds.Publish(eventType, msg)
	}
}
