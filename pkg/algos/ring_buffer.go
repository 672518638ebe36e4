// Package algos - 有界环形缓冲区（Ring Buffer）
package algos

// RingBuffer 固定容量、按插入顺序保存的缓冲区，满时淘汰最旧元素
// 非并发安全，由调用方加锁
type RingBuffer[T any] struct {
	buf   []T
	head  int
	size  int
	evict int64
}

// NewRingBuffer 创建环形缓冲区，capacity 至少为 1
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{buf: make([]T, capacity)}
}

// Push 追加元素，返回被淘汰的旧元素（如有）
func (r *RingBuffer[T]) Push(v T) (evicted T, ok bool) {
	idx := (r.head + r.size) % len(r.buf)
	if r.size == len(r.buf) {
		evicted, ok = r.buf[r.head], true
		r.head = (r.head + 1) % len(r.buf)
		r.evict++
	} else {
		r.size++
	}
	r.buf[idx] = v
	return evicted, ok
}

// Len 当前元素数
func (r *RingBuffer[T]) Len() int { return r.size }

// Cap 容量
func (r *RingBuffer[T]) Cap() int { return len(r.buf) }

// Evicted 累计淘汰数
func (r *RingBuffer[T]) Evicted() int64 { return r.evict }

// At 第 i 个元素，0 为最旧
func (r *RingBuffer[T]) At(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Slice 按从旧到新的顺序复制全部元素
func (r *RingBuffer[T]) Slice() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.At(i)
	}
	return out
}

// Latest 最新的 n 个元素，从新到旧
func (r *RingBuffer[T]) Latest(n int) []T {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.At(r.size - 1 - i)
	}
	return out
}

// Retain 仅保留满足条件的元素，保持顺序，返回删除数
func (r *RingBuffer[T]) Retain(keep func(T) bool) int {
	kept := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		if v := r.At(i); keep(v) {
			kept = append(kept, v)
		}
	}
	removed := r.size - len(kept)
	if removed == 0 {
		return 0
	}
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	copy(r.buf, kept)
	r.head = 0
	r.size = len(kept)
	return removed
}

// Clear 清空
func (r *RingBuffer[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.size = 0, 0
}
