package queue

import (
	"errors"
	"sync"
)

// compactThreshold を超えて先頭が進んだら、消費済みの領域を詰める
const compactThreshold = 32

// ErrClosed は閉じたキューへの送信時に返される
var ErrClosed = errors.New("queue closed: no consumers")

// Queue は無制限のMPMC FIFOキュー
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	closed bool
}

// New は新しいキューを作成する
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send はアイテムを末尾に追加する（ブロックしない）
func (q *Queue[T]) Send(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.items = append(q.items, item)
	q.cond.Signal()
	return nil
}

// Receive は先頭のアイテムを取り出す
// キューが空の場合は到着かクローズまでブロックする
// クローズ済みかつ空の場合は ok=false を返す
func (q *Queue[T]) Receive() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head == len(q.items) && !q.closed {
		q.cond.Wait()
	}

	if q.head == len(q.items) {
		return item, false
	}

	item = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++

	// 空になったらバッファを再利用する
	// 空にならなくても消費済みが半分を超えたら詰めて、容量を未配送数に比例させる
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}

	return item, true
}

// Close はキューを閉じ、待機中の全受信者を起こす
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len は未配送のアイテム数を返す
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
