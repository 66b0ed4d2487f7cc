package detector

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/twitter/nexosched/actor"
	"github.com/twitter/nexosched/common/log"
)

// defaultMasterKey is the znode (etcd key) a master publishes its address
// under when no explicit path is given in the zoo:// spec.
const defaultMasterKey = "/nexus/master"

// etcdDetector watches defaultMasterKey (or the path carried by the
// zoo:// spec) for the currently elected master, reconnecting with
// backoff across session loss.
type etcdDetector struct {
	client *clientv3.Client
	key    string

	events chan Event
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

// newEtcdDetector parses a zoo:// spec's remainder ("HOST[,HOST…][/PATH]")
// and starts watching the resulting key for master PID announcements.
func newEtcdDetector(rest string) (*etcdDetector, error) {
	hosts, key := splitHostsAndPath(rest)
	if len(hosts) == 0 {
		return nil, errors.Errorf("detector: zoo:// spec %q has no host list", rest)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   hosts,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "detector: connecting to etcd %v", hosts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &etcdDetector{
		client: client,
		key:    key,
		events: make(chan Event, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go d.run(ctx)
	return d, nil
}

func splitHostsAndPath(rest string) (hosts []string, key string) {
	key = defaultMasterKey
	path := rest
	if i := strings.Index(rest, "/"); i >= 0 {
		path = rest[:i]
		if rest[i:] != "/" {
			key = rest[i:]
		}
	}
	for _, h := range strings.Split(path, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts, key
}

func (d *etcdDetector) Events() <-chan Event { return d.events }

func (d *etcdDetector) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		close(d.done)
	})
	return d.client.Close()
}

// run is the detector's one goroutine: an initial read to establish
// current state, then a watch loop that reconnects with backoff on
// failure, matching the actor's single-suspension-point model by never
// touching d.events from more than one goroutine.
func (d *etcdDetector) run(ctx context.Context) {
	defer close(d.events)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // retry indefinitely; the scheduler actor owns giving up

	for {
		if err := d.watchOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := b.NextBackOff()
			log.WithField("key", d.key).Warnf("detector: etcd watch failed, retrying in %s: %v", wait, err)
			select {
			case d.events <- NoMaster{}:
			case <-ctx.Done():
				return
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		b.Reset()
		if ctx.Err() != nil {
			return
		}
	}
}

// watchOnce fetches the current value at d.key and then watches for
// further changes, returning nil only when ctx is cancelled and a
// transport error otherwise so run() can apply backoff.
func (d *etcdDetector) watchOnce(ctx context.Context) error {
	getResp, err := d.client.Get(ctx, d.key)
	if err != nil {
		return err
	}
	if len(getResp.Kvs) > 0 {
		d.emitFromValue(ctx, getResp.Kvs[0].Value)
	} else {
		select {
		case d.events <- NoMaster{}:
		case <-ctx.Done():
			return nil
		}
	}

	watchCh := d.client.Watch(ctx, d.key, clientv3.WithRev(getResp.Header.Revision+1))
	for {
		select {
		case resp, ok := <-watchCh:
			if !ok {
				return errors.Errorf("detector: etcd watch channel closed for %s", d.key)
			}
			if err := resp.Err(); err != nil {
				return err
			}
			for _, ev := range resp.Events {
				switch ev.Type {
				case mvccpb.PUT:
					d.emitFromValue(ctx, ev.Kv.Value)
				case mvccpb.DELETE:
					select {
					case d.events <- NoMaster{}:
					case <-ctx.Done():
						return nil
					}
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// emitFromValue decodes "<epoch>|<name>@<addr>" and emits NewMaster, or
// NoMaster if the value is malformed — a master announcing garbage is
// treated the same as announcing nothing.
func (d *etcdDetector) emitFromValue(ctx context.Context, value []byte) {
	epoch, pid, ok := parseMasterRecord(string(value))
	var ev Event
	if ok {
		ev = NewMaster{Epoch: epoch, PID: pid}
	} else {
		log.WithField("value", string(value)).Warn("detector: malformed master record in etcd")
		ev = NoMaster{}
	}
	select {
	case d.events <- ev:
	case <-ctx.Done():
	}
}

func parseMasterRecord(value string) (epoch string, pid actor.PID, ok bool) {
	parts := strings.SplitN(value, "|", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", actor.PID{}, false
	}
	p, err := parseDirectAddress(parts[1])
	if err != nil {
		return "", actor.PID{}, false
	}
	return parts[0], p, true
}
