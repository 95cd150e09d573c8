package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikekulinski/zkclient/pkg/zookeeper"
)

// Submitter sends a request and waits for its response.
type Submitter interface {
	Do(ctx context.Context, req *zookeeper.Request) (*zookeeper.Response, error)
}

// Transaction collects ops and commits them atomically with a single MULTI
// request. It is not safe for concurrent use.
type Transaction struct {
	submitter Submitter
	ops       []Op
	errs      []error
}

func New(submitter Submitter) *Transaction {
	return &Transaction{submitter: submitter}
}

// Create adds a create op. A nil acl means zookeeper.OpenACLUnsafe.
func (t *Transaction) Create(path string, data []byte, acl []zookeeper.ACL, mode zookeeper.CreateMode) *Transaction {
	if len(acl) == 0 {
		acl = zookeeper.OpenACLUnsafe
	}
	return t.add(&CreateOp{Path: path, Data: data, ACL: acl, Mode: mode})
}

func (t *Transaction) Delete(path string, version int32) *Transaction {
	return t.add(&DeleteOp{Path: path, Version: version})
}

func (t *Transaction) SetData(path string, data []byte, version int32) *Transaction {
	return t.add(&SetDataOp{Path: path, Data: data, Version: version})
}

func (t *Transaction) Check(path string, version int32) *Transaction {
	return t.add(&CheckOp{Path: path, Version: version})
}

func (t *Transaction) add(op Op) *Transaction {
	if err := zookeeper.ValidatePath(op.path()); err != nil {
		t.errs = append(t.errs, fmt.Errorf("op %d (%s): %w", len(t.ops), op.OpCode(), err))
	}
	t.ops = append(t.ops, op)
	return t
}

// Ops returns the ops added so far.
func (t *Transaction) Ops() []Op {
	return t.ops
}

// Commit sends the transaction. When the server rejects it, the returned
// error is the first failing op's error and the full result list is still
// returned so the caller can see which op failed.
func (t *Transaction) Commit(ctx context.Context) ([]Result, error) {
	if len(t.errs) > 0 {
		return nil, errors.Join(t.errs...)
	}

	resp, err := t.submitter.Do(ctx, zookeeper.NewRequest(zookeeper.OpMulti, &MultiRequest{Ops: t.ops}))
	if err != nil {
		return nil, err
	}
	multi, ok := resp.Payload.(*MultiResponse)
	if !ok {
		return nil, fmt.Errorf("%w: multi reply carried %T", zookeeper.ErrUnexpectedResponse, resp.Payload)
	}

	results := multi.Results
	// Results line up with ops; attach the op's path to its error.
	for i := range results {
		if i >= len(t.ops) {
			break
		}
		if code, ok := zookeeper.CodeOf(results[i].Err); ok {
			results[i].Err = zookeeper.ErrorFromCode(code, t.ops[i].path())
		}
	}
	return results, Check(results)
}
