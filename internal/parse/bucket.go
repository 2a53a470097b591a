package parse

import (
	"sort"
	"time"
)

// bucket accumulates the raw samples that fall into one second.
type bucket struct {
	sum    float64
	count  int
	wsum   float64
	weight float64
}

// secondBuckets folds sub-second samples into one value per whole second.
// A bucket exists once any sample touched it, even if none were usable.
type secondBuckets struct {
	m map[int64]*bucket
}

func newSecondBuckets() *secondBuckets {
	return &secondBuckets{m: make(map[int64]*bucket)}
}

func (s *secondBuckets) touch(ts time.Time) *bucket {
	key := ts.Unix()
	b, ok := s.m[key]
	if !ok {
		b = &bucket{}
		s.m[key] = b
	}
	return b
}

func (s *secondBuckets) add(ts time.Time, v float64) {
	b := s.touch(ts)
	b.sum += v
	b.count++
}

func (s *secondBuckets) addWeighted(ts time.Time, v, w float64) {
	b := s.touch(ts)
	b.sum += v
	b.count++
	b.wsum += v * w
	b.weight += w
}

func (s *secondBuckets) len() int { return len(s.m) }

// each visits buckets in ascending time order.
func (s *secondBuckets) each(fn func(ts time.Time, b *bucket)) {
	keys := make([]int64, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		fn(time.Unix(k, 0).UTC(), s.m[k])
	}
}

// meanRounded is the simple reducer: arithmetic mean to two decimals.
func meanRounded(b *bucket) (float64, bool) {
	if b.count == 0 {
		return 0, false
	}
	return round2(b.sum / float64(b.count)), true
}

// weightedMean is the quality-weighted reducer. Zero total weight falls
// back to the simple mean.
func weightedMean(b *bucket) (float64, bool) {
	if b.count == 0 {
		return 0, false
	}
	if b.weight == 0 {
		return b.sum / float64(b.count), true
	}
	return b.wsum / b.weight, true
}
