package adapter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/roach88/peersync/internal/canon"
	"github.com/roach88/peersync/internal/resource"
	"github.com/roach88/peersync/internal/result"
	"github.com/roach88/peersync/internal/store"
	"github.com/roach88/peersync/internal/transport"
)

// Sink applies a converted change. It returns one of KindSuccess,
// KindEnqueued or KindNoOperation on success, plus advisory warnings; the
// adapter classifies errors.
type Sink interface {
	Apply(ctx context.Context, kind resource.Kind, ch Change, obj canon.Object) (result.Kind, []string, error)
}

// StoreSink applies changes to the local ResourceStore. Child UIds missing
// from a publish are resolved by the store.
type StoreSink struct {
	Store *store.Store
}

// NewStoreSink wraps s.
func NewStoreSink(s *store.Store) *StoreSink {
	return &StoreSink{Store: s}
}

// Apply implements Sink.
func (s *StoreSink) Apply(ctx context.Context, kind resource.Kind, ch Change, obj canon.Object) (result.Kind, []string, error) {
	var (
		m   store.Mutation
		err error
	)
	switch ch.Op {
	case OpPublish:
		m, err = s.Store.Publish(ctx, kind, obj, ch.AllowDowngrade)
	case OpPatch:
		m, err = s.Store.ApplyPatch(ctx, ch.Target, obj, ch.AllowDowngrade)
	case OpSetChild:
		child, cerr := resource.ChildFromObject(kind, obj)
		if cerr != nil {
			return "", nil, cerr
		}
		m, err = s.Store.SetChild(ctx, ch.Target, child)
	case OpRemoveChild:
		m, err = s.Store.RemoveChild(ctx, ch.Target, ch.UID)
	default:
		return "", nil, fmt.Errorf("store sink: unsupported op %q", ch.Op)
	}
	if err != nil {
		return "", nil, err
	}
	if m.NoOp() {
		return result.KindNoOperation, m.Warnings, nil
	}
	return result.KindSuccess, m.Warnings, nil
}

// RemoteSink delivers changes to a peer through a transport.Client.
// 202 Accepted maps to Enqueued; any other 2xx to Success. Children are
// sent as given; a peer assigns the UIds it is missing.
type RemoteSink struct {
	Client transport.Client
}

// NewRemoteSink wraps c.
func NewRemoteSink(c transport.Client) *RemoteSink {
	return &RemoteSink{Client: c}
}

// Apply implements Sink.
func (s *RemoteSink) Apply(ctx context.Context, kind resource.Kind, ch Change, obj canon.Object) (result.Kind, []string, error) {
	req := transport.Request{Kind: kind.Name, Identity: ch.Target}
	switch ch.Op {
	case OpPublish:
		req.Method = http.MethodPut
		req.Body = &obj
	case OpPatch:
		req.Method = http.MethodPatch
		req.Body = &obj
	case OpSetChild:
		uid, _ := obj.GetString(kind.UIDKey)
		req.Method = http.MethodPut
		req.UID = uid
		req.Body = &obj
	case OpRemoveChild:
		req.Method = http.MethodDelete
		req.UID = ch.UID
	default:
		return "", nil, fmt.Errorf("remote sink: unsupported op %q", ch.Op)
	}

	resp, err := s.Client.Do(ctx, req)
	if err != nil {
		return "", nil, err
	}
	if resp.Accepted() {
		return result.KindEnqueued, nil, nil
	}
	return result.KindSuccess, nil, nil
}
