// Package paginate runs aggregation pipelines (match, lookup, sort) against a
// collection and returns one stable page of the result.
package paginate

import (
	"context"
	"time"

	"github.com/example/reelhub/internal/apperr"
	"github.com/example/reelhub/internal/metrics"
)

// Executor evaluates a compiled Query against a backing store.
type Executor interface {
	Count(ctx context.Context, q *Query) (int64, error)
	Find(ctx context.Context, q *Query, offset, limit int) ([]Document, error)
}

type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Result mirrors the aggregate-paginate response shape used by the feed.
type Result struct {
	Docs        []Document `json:"docs"`
	TotalDocs   int64      `json:"totalDocs"`
	Page        int        `json:"page"`
	PageSize    int        `json:"pageSize"`
	TotalPages  int64      `json:"totalPages"`
	HasNextPage bool       `json:"hasNextPage"`
	HasPrevPage bool       `json:"hasPrevPage"`
	NextPage    *int       `json:"nextPage"`
	PrevPage    *int       `json:"prevPage"`
}

type Paginator struct {
	exec Executor
	opts Options
}

func New(exec Executor, opts Options) *Paginator {
	if opts.MaxPageSize < 1 {
		opts.MaxPageSize = 100
	}
	if opts.DefaultPageSize < 1 || opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = min(10, opts.MaxPageSize)
	}
	return &Paginator{exec: exec, opts: opts}
}

// Bounds normalises page and pageSize: page below 1 becomes 1, a zero
// pageSize takes the default and anything else is clamped to [1, max].
func (p *Paginator) Bounds(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize == 0:
		pageSize = p.opts.DefaultPageSize
	case pageSize < 1:
		pageSize = 1
	case pageSize > p.opts.MaxPageSize:
		pageSize = p.opts.MaxPageSize
	}
	return page, pageSize
}

// Paginate compiles pipeline against base, counts the matching documents and
// fetches the requested page ordered by the pipeline's sort keys followed by
// the schema key.
//
// Count and fetch are separate reads. A write landing between them, or
// between two page requests, can shift TotalDocs and move documents across
// page boundaries; callers see eventually consistent page metadata.
func (p *Paginator) Paginate(ctx context.Context, base Schema, pipeline Pipeline, page, pageSize int) (*Result, error) {
	start := time.Now()
	q, err := Compile(base, pipeline)
	if err != nil {
		return nil, err
	}
	page, pageSize = p.Bounds(page, pageSize)

	total, err := p.exec.Count(ctx, q)
	if err != nil {
		return nil, apperr.Internalf(err, "count %s", base.Name)
	}
	res := newResult(total, page, pageSize)

	if int64(page) <= res.TotalPages {
		docs, err := p.exec.Find(ctx, q, (page-1)*pageSize, pageSize)
		if err != nil {
			return nil, apperr.Internalf(err, "find %s", base.Name)
		}
		res.Docs = docs
	}
	if res.Docs == nil {
		res.Docs = []Document{}
	}
	metrics.ObservePaginate(base.Name, time.Since(start))
	return res, nil
}

func newResult(total int64, page, pageSize int) *Result {
	res := &Result{
		TotalDocs:  total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + int64(pageSize) - 1) / int64(pageSize),
	}
	res.HasNextPage = int64(page) < res.TotalPages
	if res.HasNextPage {
		n := page + 1
		res.NextPage = &n
	}
	// past the end, prevPage points at the last page
	if prev := min(int64(page-1), res.TotalPages); prev >= 1 {
		p := int(prev)
		res.PrevPage = &p
	}
	res.HasPrevPage = res.PrevPage != nil
	return res
}
