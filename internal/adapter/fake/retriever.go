package fake

import (
	"context"
	"slices"

	"mcpforge/internal/adapter/fake/fault"
	"mcpforge/internal/forge"
)

var _ forge.Retriever = (*Retriever)(nil)

// Retriever returns a fixed descriptor list truncated to k.
type Retriever struct {
	CallRecorder
	Docs []forge.Descriptor

	Faults *fault.Injector

	RetrieveErr func(ctx context.Context, query string, k int) error
}

func NewRetriever(docs ...forge.Descriptor) *Retriever {
	return &Retriever{Docs: docs}
}

func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]forge.Descriptor, error) {
	r.record("Retrieve", query, k)
	if err := r.Faults.Eval(fault.PointRetrieve, query); err != nil {
		return nil, err
	}
	if r.RetrieveErr != nil {
		if err := r.RetrieveErr(ctx, query, k); err != nil {
			return nil, err
		}
	}
	docs := slices.Clone(r.Docs)
	if k > 0 && len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}
