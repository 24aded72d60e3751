package cache

import "ashare-quote-core/internal/models"

// series 是定长的滚动采样序列，写满后覆盖最老的点
type series struct {
	points []models.PricePoint
	head   int
	count  int
}

func newSeries(capacity int) *series {
	return &series{points: make([]models.PricePoint, capacity)}
}

func (s *series) push(p models.PricePoint) {
	if s.count == len(s.points) {
		s.points[s.head] = p
		s.head = (s.head + 1) % len(s.points)
		return
	}
	s.points[(s.head+s.count)%len(s.points)] = p
	s.count++
}

// newestFirst 返回最近的n个点，新的在前
func (s *series) newestFirst(n int) []models.PricePoint {
	if n > s.count {
		n = s.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]models.PricePoint, n)
	for i := 0; i < n; i++ {
		idx := (s.head + s.count - 1 - i + len(s.points)*2) % len(s.points)
		out[i] = s.points[idx]
	}
	return out
}
