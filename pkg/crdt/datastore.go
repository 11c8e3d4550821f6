package crdt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshkv/meshkv/pkg/broadcast"
	"github.com/meshkv/meshkv/pkg/cid"
	"github.com/meshkv/meshkv/pkg/dag"
	"github.com/meshkv/meshkv/pkg/keys"
	"github.com/meshkv/meshkv/pkg/metrics"
	"github.com/meshkv/meshkv/pkg/storage"
)

// headsNamespace holds head entries under the store's root prefix.
const headsNamespace = "h"

// dagJob is one unit of DAG traversal work: fetch and process the node
// at cur, attributing head updates to root at rootPrio.
type dagJob struct {
	root     cid.CID
	rootPrio uint64
	cur      cid.CID
	topic    string
}

// Datastore is the replicated key-value store. Local mutations become
// deltas wrapped in DAG nodes whose links reference the previous heads;
// node CIDs are gossiped through the broadcaster and replayed by every
// replica, converging through the set's merge rules.
//
// Three task groups run until Close: a broadcast receiver, a head
// rebroadcaster, and a pool of DAG workers draining the traversal
// queue.
type Datastore struct {
	store  storage.Store
	ns     keys.Key
	set    *Set
	heads  *Heads
	syncer dag.Syncer
	bcast  broadcast.Broadcaster
	opts   *Options
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// dagMu guards the combined merge + head-update critical section
	// so head heights stay consistent with merged state.
	dagMu sync.Mutex

	jobMu   sync.Mutex
	jobCond *sync.Cond
	jobs    []dagJob
	closing bool

	seenMu    sync.Mutex
	seenHeads map[cid.CID]struct{}

	proc *processedSet

	topicsMu        sync.RWMutex
	broadcastTopics []string
	listenTopics    map[string]bool

	ready     atomic.Bool
	closeOnce sync.Once
}

// New opens a datastore over the given backend, DAG syncer and
// broadcaster, rooted at namespace. The head set primes from storage
// and the background tasks start immediately. opts may be nil for
// defaults.
func New(store storage.Store, namespace keys.Key, syncer dag.Syncer, bcast broadcast.Broadcaster, opts *Options) (*Datastore, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	heads, err := NewHeads(store, namespace.Child(headsNamespace))
	if err != nil {
		return nil, fmt.Errorf("priming heads: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Datastore{
		store:     store,
		ns:        namespace,
		set:       NewSet(store, namespace, opts.PutHook, opts.DeleteHook),
		heads:     heads,
		syncer:    syncer,
		bcast:     bcast,
		opts:      opts,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		seenHeads: make(map[cid.CID]struct{}),
		proc:      newProcessedSet(opts.ProcessedCacheSize),
		listenTopics: map[string]bool{
			broadcast.DefaultTopic: true,
		},
	}
	d.jobCond = sync.NewCond(&d.jobMu)
	d.ready.Store(true)

	headList, maxHeight := heads.List()
	d.logger.Info().
		Int("heads", len(headList)).
		Uint64("max_height", maxHeight).
		Msg("crdt datastore created")
	d.updateHeadMetrics()

	d.wg.Add(1)
	go d.handleNext()
	d.wg.Add(1)
	go d.rebroadcastLoop()
	for i := 0; i < opts.NumWorkers; i++ {
		d.wg.Add(1)
		go d.dagWorker()
	}
	return d, nil
}

// AddBroadcastTopic declares a topic the store publishes under when an
// operation names no topic itself.
func (d *Datastore) AddBroadcastTopic(topic string) {
	if topic == "" {
		topic = broadcast.DefaultTopic
	}
	d.topicsMu.Lock()
	defer d.topicsMu.Unlock()
	for _, t := range d.broadcastTopics {
		if t == topic {
			return
		}
	}
	d.broadcastTopics = append(d.broadcastTopics, topic)
}

// AddListenTopic subscribes the store to inbound broadcasts on topic.
// Messages on topics never listened to are dropped.
func (d *Datastore) AddListenTopic(topic string) error {
	if topic == "" {
		topic = broadcast.DefaultTopic
	}
	if err := d.bcast.Join(topic); err != nil {
		return fmt.Errorf("%w: joining %s: %v", ErrBroadcast, topic, err)
	}
	d.topicsMu.Lock()
	d.listenTopics[topic] = true
	d.topicsMu.Unlock()
	return nil
}

func (d *Datastore) listening(topic string) bool {
	d.topicsMu.RLock()
	defer d.topicsMu.RUnlock()
	return d.listenTopics[topic]
}

func (d *Datastore) publishTopics(topics []string) []string {
	if len(topics) > 0 {
		return topics
	}
	d.topicsMu.RLock()
	defer d.topicsMu.RUnlock()
	if len(d.broadcastTopics) > 0 {
		return append([]string(nil), d.broadcastTopics...)
	}
	return []string{""}
}

// Put stores value under key and publishes the change. With no topics
// the store's declared broadcast topics (or the default) are used.
func (d *Datastore) Put(key string, value []byte, topics ...string) error {
	if !d.ready.Load() {
		return ErrNotInitialized
	}
	if keys.New(key).String() == "/" {
		return ErrInvalidKey
	}
	return d.publish(d.set.CreateDeltaToAdd(key, value), topics)
}

// Get returns the current value for key. It reads purely from local
// storage and never blocks on the network.
func (d *Datastore) Get(key string) ([]byte, error) {
	if !d.ready.Load() {
		return nil, ErrNotInitialized
	}
	return d.set.Element(key)
}

// Has reports whether key is observable.
func (d *Datastore) Has(key string) (bool, error) {
	if !d.ready.Load() {
		return false, ErrNotInitialized
	}
	return d.set.InSet(key)
}

// Delete removes key by tombstoning every observable instance. A key
// that is not in the set succeeds without publishing anything.
func (d *Datastore) Delete(key string, topics ...string) error {
	if !d.ready.Load() {
		return ErrNotInitialized
	}
	delta, err := d.set.CreateDeltaToRemove(key)
	if err != nil {
		return err
	}
	if len(delta.Tombstones) == 0 {
		return nil
	}
	return d.publish(delta, topics)
}

// Query scans observable key-value pairs under prefix. An empty prefix
// yields every pair.
func (d *Datastore) Query(prefix string) (*Iterator, error) {
	if !d.ready.Load() {
		return nil, ErrNotInitialized
	}
	return d.set.QueryElements(prefix)
}

// QueryFiltered scans pairs under prefixBase whose next segment matches
// middle and whose remaining path starts with remainder. middle may be
// a plain segment, "*" (any) or "!x" (any but x); empty middle disables
// filtering.
func (d *Datastore) QueryFiltered(prefixBase, middle, remainder string) (*FilteredIterator, error) {
	it, err := d.Query(prefixBase)
	if err != nil {
		return nil, err
	}
	return &FilteredIterator{
		it:        it,
		base:      keys.New(prefixBase),
		middle:    middle,
		remainder: keys.New(remainder).List(),
	}, nil
}

// NewTransaction begins an atomic multi-key transaction against the
// store.
func (d *Datastore) NewTransaction() (*Transaction, error) {
	if !d.ready.Load() {
		return nil, ErrNotInitialized
	}
	return newTransaction(d), nil
}

// publish runs the publish pipeline: wrap the delta in a DAG node over
// the current heads, persist it, apply it locally, then broadcast the
// new CID. A broadcast failure is reported but the local write stays
// applied; the change propagates on the next rebroadcast.
func (d *Datastore) publish(delta *Delta, topics []string) error {
	if !d.ready.Load() {
		return ErrNotInitialized
	}
	topics = d.publishTopics(topics)
	c, err := d.addDAGNode(delta, topics[0])
	if err != nil {
		return err
	}
	return d.broadcastCids([]cid.CID{c}, topics, "publish")
}

// addDAGNode builds, persists and locally processes the node for delta,
// returning its CID. The delta's priority becomes max head height + 1;
// with no heads the first priority is 1.
func (d *Datastore) addDAGNode(delta *Delta, topic string) (cid.CID, error) {
	d.dagMu.Lock()
	defer d.dagMu.Unlock()

	heads, maxHeight := d.heads.List()
	delta.Priority = maxHeight + 1

	node := dag.NewNode(delta.Encode(), heads)
	ctx, cancelCtx := d.syncContext()
	defer cancelCtx()
	if err := d.syncer.AddNode(ctx, node); err != nil {
		return cid.CID{}, fmt.Errorf("%w: writing dag node: %v", ErrStorage, err)
	}

	c := node.CID()
	children, err := d.processNodeLocked(c, delta.Priority, delta, node, topic)
	if err != nil {
		return cid.CID{}, fmt.Errorf("processing own node %s: %w", c, err)
	}
	if len(children) != 0 {
		d.logger.Error().Str("cid", c.String()).Msg("bug: created a block with unknown children")
	}
	metrics.NodesPublished.Inc()
	return c, nil
}

func (d *Datastore) broadcastCids(cids []cid.CID, topics []string, kind string) error {
	payload := EncodeBroadcast(cids)
	if len(payload) == 0 {
		return nil
	}
	var firstErr error
	for _, topic := range topics {
		if err := d.bcast.Broadcast(payload, topic); err != nil {
			d.logger.Error().Str("topic", topic).Err(err).Msg("broadcast failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %v", ErrBroadcast, err)
			}
			continue
		}
		metrics.BroadcastsSent.WithLabelValues(kind).Inc()
	}
	return firstErr
}

// syncContext derives the fetch context from the store's lifetime and
// the configured DAG syncer timeout.
func (d *Datastore) syncContext() (context.Context, context.CancelFunc) {
	if d.opts.DAGSyncerTimeout == 0 {
		return context.WithCancel(d.ctx)
	}
	return context.WithTimeout(d.ctx, d.opts.DAGSyncerTimeout)
}

// handleNext is the inbound broadcast loop.
func (d *Datastore) handleNext() {
	defer d.wg.Done()
	for {
		msg, err := d.bcast.Next()
		if errors.Is(err, broadcast.ErrClosed) {
			d.logger.Debug().Msg("broadcast receiver finished")
			return
		}
		if err != nil {
			if d.ctx.Err() != nil {
				return
			}
			d.logger.Error().Err(err).Msg("retrieving broadcast")
			continue
		}

		if !d.listening(msg.Topic) {
			d.logger.Debug().Str("topic", msg.Topic).Msg("ignoring broadcast on unsubscribed topic")
			metrics.BroadcastsDropped.Inc()
			continue
		}

		cids, err := DecodeBroadcast(msg.Payload)
		if err != nil {
			d.logger.Error().Err(err).Msg("decoding broadcast")
			metrics.BroadcastsDropped.Inc()
			continue
		}

		for _, c := range cids {
			d.markSeen(c)
			if d.proc.contains(c) {
				continue
			}
			if has, err := d.syncer.HasBlock(c); err == nil && has {
				continue
			}
			d.enqueue(dagJob{root: c, rootPrio: 0, cur: c, topic: msg.Topic})
		}
	}
}

func (d *Datastore) markSeen(c cid.CID) {
	d.seenMu.Lock()
	d.seenHeads[c] = struct{}{}
	d.seenMu.Unlock()
}

// enqueue hands a job to the worker pool unless its target CID is
// already processed or in flight.
func (d *Datastore) enqueue(job dagJob) {
	if !d.proc.tryPin(job.cur) {
		return
	}
	d.jobMu.Lock()
	if d.closing {
		d.jobMu.Unlock()
		d.proc.unpin(job.cur)
		return
	}
	d.jobs = append(d.jobs, job)
	metrics.JobsQueued.Set(float64(len(d.jobs)))
	d.jobMu.Unlock()
	d.jobCond.Signal()
}

func (d *Datastore) nextJob() (dagJob, bool) {
	d.jobMu.Lock()
	defer d.jobMu.Unlock()
	for len(d.jobs) == 0 && !d.closing {
		d.jobCond.Wait()
	}
	if len(d.jobs) == 0 {
		return dagJob{}, false
	}
	job := d.jobs[0]
	d.jobs = d.jobs[1:]
	metrics.JobsQueued.Set(float64(len(d.jobs)))
	return job, true
}

// dagWorker drains the job queue until Close. The remaining queue is
// drained on shutdown; fetches abort quickly once the store context is
// canceled.
func (d *Datastore) dagWorker() {
	defer d.wg.Done()
	for {
		job, ok := d.nextJob()
		if !ok {
			d.logger.Debug().Msg("dag worker finished")
			return
		}
		d.processJob(job)
	}
}

// processJob fetches, merges and traverses one node. Failures leave the
// CID unprocessed; it is retried on the next broadcast announcing it.
func (d *Datastore) processJob(job dagJob) {
	defer d.proc.unpin(job.cur)

	ctx, cancelCtx := d.syncContext()
	defer cancelCtx()

	node, err := d.syncer.FetchGraphOnDepth(ctx, job.cur, 1)
	if err != nil {
		d.logger.Error().Str("cid", job.cur.String()).Err(err).Msg("fetching dag node")
		metrics.JobsFailed.WithLabelValues("fetch").Inc()
		return
	}

	delta, err := DecodeDelta(node.Content)
	if err != nil {
		d.logger.Error().Str("cid", job.cur.String()).Err(err).Msg("decoding delta")
		metrics.JobsFailed.WithLabelValues("codec").Inc()
		return
	}

	// The delta's own priority is authoritative when replaying a node
	// whose root priority is unknown.
	rootPrio := job.rootPrio
	if rootPrio == 0 {
		rootPrio = delta.Priority
	}

	d.dagMu.Lock()
	children, err := d.processNodeLocked(job.root, rootPrio, delta, node, job.topic)
	d.dagMu.Unlock()
	if err != nil {
		d.logger.Error().Str("cid", job.cur.String()).Err(err).Msg("processing dag node")
		metrics.JobsFailed.WithLabelValues("process").Inc()
		return
	}

	for _, child := range children {
		d.enqueue(dagJob{root: job.root, rootPrio: rootPrio, cur: child, topic: job.topic})
	}
}

// processNodeLocked merges the node's delta and applies the head update
// rules, returning the links that still need traversal. Callers hold
// dagMu.
func (d *Datastore) processNodeLocked(root cid.CID, rootPrio uint64, delta *Delta, node *dag.Node, topic string) ([]cid.CID, error) {
	cur := node.CID()

	timer := metrics.NewTimer()
	if err := d.set.Merge(delta, cur.String()); err != nil {
		return nil, fmt.Errorf("merging delta from %s: %w", cur, err)
	}
	timer.ObserveDuration(metrics.MergeDuration)

	var children []cid.CID
	if len(node.Links) == 0 {
		// A node with no ancestry starts its own chain.
		if err := d.heads.Add(root, rootPrio, topic); err != nil {
			return nil, fmt.Errorf("adding head %s: %w", root, err)
		}
	} else {
		for _, link := range node.Links {
			if d.heads.IsHead(link) {
				if err := d.heads.Replace(link, root, rootPrio, topic); err != nil {
					return nil, fmt.Errorf("replacing head %s with %s: %w", link, root, err)
				}
				d.proc.mark(link)
				continue
			}
			has, err := d.syncer.HasBlock(link)
			if err != nil {
				return nil, fmt.Errorf("%w: checking for block %s: %v", ErrStorage, link, err)
			}
			if has {
				// Ancestor already known locally: the branch is
				// complete below this point.
				if err := d.heads.Add(root, rootPrio, topic); err != nil {
					return nil, fmt.Errorf("adding head %s: %w", root, err)
				}
				d.proc.mark(link)
				continue
			}
			children = append(children, link)
		}
	}

	d.proc.mark(cur)
	metrics.NodesProcessed.Inc()
	d.updateHeadMetrics()
	return children, nil
}

// rebroadcastLoop periodically re-announces the current heads.
func (d *Datastore) rebroadcastLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.opts.RebroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.rebroadcastHeads()
		case <-d.ctx.Done():
			d.logger.Debug().Msg("rebroadcast loop finished")
			return
		}
	}
}

func (d *Datastore) rebroadcastHeads() {
	groups := d.heads.ByTopic()
	for topic, heads := range groups {
		if topic == "" {
			// Heads recorded without a topic stay off the default
			// channel; configure explicit topics to re-announce them.
			d.logger.Debug().Int("heads", len(heads)).Msg("skipping rebroadcast of empty-topic group")
			continue
		}
		if err := d.broadcastCids(heads, []string{topic}, "rebroadcast"); err != nil {
			d.logger.Error().Str("topic", topic).Err(err).Msg("rebroadcasting heads")
		}
	}

	d.seenMu.Lock()
	d.seenHeads = make(map[cid.CID]struct{})
	d.seenMu.Unlock()
}

func (d *Datastore) updateHeadMetrics() {
	heads, maxHeight := d.heads.List()
	metrics.HeadsCurrent.Set(float64(len(heads)))
	metrics.HeadMaxHeight.Set(float64(maxHeight))
}

// Heads returns the current DAG frontier and its maximum height.
func (d *Datastore) Heads() ([]cid.CID, uint64) {
	return d.heads.List()
}

// Sync flushes all store state under the given user-key prefix,
// including the head namespace, to stable storage.
func (d *Datastore) Sync(prefix string) error {
	if !d.ready.Load() {
		return ErrNotInitialized
	}
	if err := d.set.Sync(prefix); err != nil {
		return err
	}
	if err := d.store.Sync(d.heads.NamespaceKey().Bytes()); err != nil {
		return fmt.Errorf("%w: syncing heads: %v", ErrStorage, err)
	}
	return nil
}

// PrintDAG writes a readable dump of the current Merkle-DAG to w.
func (d *Datastore) PrintDAG(w io.Writer) error {
	if !d.ready.Load() {
		return ErrNotInitialized
	}
	heads, _ := d.heads.List()
	visited := make(map[cid.CID]bool)
	for _, h := range heads {
		if err := d.printDAGRec(w, h, 0, visited); err != nil {
			return err
		}
	}
	return nil
}

func (d *Datastore) printDAGRec(w io.Writer, c cid.CID, depth int, visited map[cid.CID]bool) error {
	indent := strings.Repeat(" ", depth)
	if visited[c] {
		fmt.Fprintf(w, "%s...\n", indent)
		return nil
	}
	visited[c] = true

	ctx, cancelCtx := d.syncContext()
	defer cancelCtx()
	node, err := d.syncer.GetNode(ctx, c)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDAGFetch, c, err)
	}
	delta, err := DecodeDelta(node.Content)
	if err != nil {
		return err
	}

	short := c.String()
	if len(short) > 4 {
		short = short[len(short)-4:]
	}
	fmt.Fprintf(w, "%s- %d | %s: ", indent, delta.Priority, short)
	fmt.Fprintf(w, "Add: {")
	for _, e := range delta.Elements {
		fmt.Fprintf(w, "%s:%s,", e.Key, e.Value)
	}
	fmt.Fprintf(w, "}. Rmv: {")
	for _, t := range delta.Tombstones {
		fmt.Fprintf(w, "%s,", t.Key)
	}
	fmt.Fprintf(w, "}. Links: {")
	for _, l := range node.Links {
		ls := l.String()
		if len(ls) > 4 {
			ls = ls[len(ls)-4:]
		}
		fmt.Fprintf(w, "%s,", ls)
	}
	fmt.Fprintf(w, "}\n")

	for _, l := range node.Links {
		if err := d.printDAGRec(w, l, depth+1, visited); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts the store down: the run flag drops, the queue drains and
// every background task joins. Close is idempotent; operations after it
// return ErrNotInitialized.
func (d *Datastore) Close() error {
	d.closeOnce.Do(func() {
		d.ready.Store(false)
		d.cancel()

		d.jobMu.Lock()
		d.closing = true
		d.jobMu.Unlock()
		d.jobCond.Broadcast()

		// Closing the broadcaster unblocks the receiver loop.
		if err := d.bcast.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("closing broadcaster")
		}
		d.wg.Wait()
		d.logger.Info().Msg("crdt datastore closed")
	})
	return nil
}
