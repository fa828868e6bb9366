package db

import (
	"context"
	"database/sql"
)

type TxFn func(ctx context.Context, tx *sql.Tx) error

// Runner executes fn inside one transaction, committing when fn returns
// nil and rolling back otherwise.
type Runner interface {
	Do(ctx context.Context, fn TxFn) error
}

type job struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Worker funnels every transaction through one goroutine, so two scans of
// the same code can never interleave their read-then-append.
type Worker struct {
	db   *sql.DB
	jobs chan job
	done chan struct{}
}

func NewWorker(db *sql.DB) *Worker {
	w := &Worker{
		db:   db,
		jobs: make(chan job, 256),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) Close() {
	close(w.jobs)
	<-w.done
}

func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch}

	// Enqueue; bail out if the caller's context expires while the buffer is full.
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	// The loop still finishes a job whose caller gave up; its result lands
	// in the buffered ch and is discarded.
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		j.ch <- runTx(j.ctx, w.db, nil, j.fn)
	}
}

// Pool runs each transaction directly on the connection pool.  Callers are
// expected to take row locks for anything they read-then-write.
type Pool struct {
	db   *sql.DB
	opts *sql.TxOptions
}

func NewPool(db *sql.DB) *Pool {
	return &Pool{db: db, opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted}}
}

func (p *Pool) Do(ctx context.Context, fn TxFn) error {
	return runTx(ctx, p.db, p.opts, fn)
}

func runTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFn) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
