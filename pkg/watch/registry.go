// Package watch tracks the one-shot watches a client has set on znodes.
//
// A Registry is not safe for concurrent use. The connection manager owns it
// and touches it only from its event loop.
package watch

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/mikekulinski/zkclient/pkg/zookeeper"
)

// Kind is the class of watch a read request leaves behind on the server.
type Kind int

const (
	// KindData is set by GET_DATA.
	KindData Kind = iota
	// KindExist is set by EXISTS.
	KindExist
	// KindChild is set by GET_CHILDREN and GET_CHILDREN2.
	KindChild
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindExist:
		return "exist"
	case KindChild:
		return "child"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	ErrUnknownEventType = errors.New("watch: unknown event type")
	ErrInvalidKind      = errors.New("watch: invalid watch kind")
	ErrNilWatcher       = errors.New("watch: nil watcher")
)

// Watcher receives the event that triggered it. Implementations must be
// comparable; two registrations of an equal Watcher on the same path and kind
// collapse into one.
type Watcher interface {
	Process(event zookeeper.Event)
}

type funcWatcher struct {
	fn func(zookeeper.Event)
}

func (f *funcWatcher) Process(event zookeeper.Event) {
	f.fn(event)
}

// WatcherFunc adapts fn to a Watcher. Each call returns a distinct Watcher,
// so keep the result around to register the same function twice.
func WatcherFunc(fn func(zookeeper.Event)) Watcher {
	return &funcWatcher{fn: fn}
}

// EventChan is a Watcher that sends the events it receives on the channel.
// Events that find the buffer full are dropped, so size it for the number of
// registrations it serves.
type EventChan chan zookeeper.Event

// NewEventChan returns an EventChan with room for size undelivered events.
func NewEventChan(size int) EventChan {
	return make(EventChan, size)
}

// Process never blocks; watchers share one delivery goroutine.
func (c EventChan) Process(event zookeeper.Event) {
	select {
	case c <- event:
	default:
	}
}

type Registry struct {
	watchers [numKinds]map[string][]Watcher
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.watchers {
		r.watchers[i] = map[string][]Watcher{}
	}
	return r
}

// Register adds w for the next event of kind on path. It reports whether the
// registration was new.
func (r *Registry) Register(path string, kind Kind, w Watcher) (bool, error) {
	if kind < 0 || kind >= numKinds {
		return false, fmt.Errorf("%w: %d", ErrInvalidKind, int(kind))
	}
	if w == nil {
		return false, ErrNilWatcher
	}
	existing := r.watchers[kind][path]
	if slices.Contains(existing, w) {
		return false, nil
	}
	r.watchers[kind][path] = append(existing, w)
	return true, nil
}

// Dispatch removes and returns the watchers that ev triggers. A watcher
// registered under more than one matching kind is returned once.
//
//	NODE_CREATED, NODE_DATA_CHANGED: data and exist watchers
//	NODE_CHILDREN_CHANGED:           child watchers
//	NODE_DELETED:                    data and child watchers
func (r *Registry) Dispatch(ev zookeeper.Event) ([]Watcher, error) {
	var kinds []Kind
	switch ev.Type {
	case zookeeper.EventNodeCreated, zookeeper.EventNodeDataChanged:
		kinds = []Kind{KindData, KindExist}
	case zookeeper.EventNodeChildrenChanged:
		kinds = []Kind{KindChild}
	case zookeeper.EventNodeDeleted:
		kinds = []Kind{KindData, KindChild}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, ev.Type)
	}

	var fired []Watcher
	for _, kind := range kinds {
		for _, w := range r.watchers[kind][ev.Path] {
			if !slices.Contains(fired, w) {
				fired = append(fired, w)
			}
		}
		delete(r.watchers[kind], ev.Path)
	}
	return fired, nil
}

// PendingPaths returns the sorted, distinct paths that have at least one
// watcher of kind.
func (r *Registry) PendingPaths(kind Kind) []string {
	if kind < 0 || kind >= numKinds {
		return nil
	}
	paths := make([]string, 0, len(r.watchers[kind]))
	for path, ws := range r.watchers[kind] {
		if len(ws) > 0 {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

func (r *Registry) IsEmpty() bool {
	return r.Len() == 0
}

// Len returns the number of live registrations across all kinds.
func (r *Registry) Len() int {
	n := 0
	for _, byPath := range r.watchers {
		for _, ws := range byPath {
			n += len(ws)
		}
	}
	return n
}

// Clear removes every registration and returns the distinct watchers that
// were live, in registration order per kind. Used when the session ends and
// no server will ever fire them.
func (r *Registry) Clear() []Watcher {
	var all []Watcher
	for kind := range r.watchers {
		for _, path := range r.PendingPaths(Kind(kind)) {
			for _, w := range r.watchers[kind][path] {
				if !slices.Contains(all, w) {
					all = append(all, w)
				}
			}
		}
		r.watchers[kind] = map[string][]Watcher{}
	}
	return all
}
