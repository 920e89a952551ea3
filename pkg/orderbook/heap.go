package orderbook

import "github.com/duskpool/venue/pkg/types"

// MaxPriceHeap implements heap.Interface over resting bid prices so the
// best bid is always at index 0. Use container/heap's Init/Push/Pop/Remove
// to manipulate it.
type MaxPriceHeap []types.Price

func (h MaxPriceHeap) Len() int           { return len(h) }
func (h MaxPriceHeap) Less(i, j int) bool { return h[i] > h[j] }
func (h MaxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *MaxPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(types.Price))
}

func (h *MaxPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// Peek returns the best (highest) bid price without removing it.
func (h MaxPriceHeap) Peek() types.Price {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}

// MinPriceHeap implements heap.Interface over resting ask prices so the
// best ask is always at index 0.
type MinPriceHeap []types.Price

func (h MinPriceHeap) Len() int           { return len(h) }
func (h MinPriceHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h MinPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *MinPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(types.Price))
}

func (h *MinPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// Peek returns the best (lowest) ask price without removing it.
func (h MinPriceHeap) Peek() types.Price {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}
