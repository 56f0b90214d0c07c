package tempstore

// interval — полуоткрытый интервал [start, end).
type interval struct {
	start, end int64
}

// intervals — отсортированные непересекающиеся несмежные интервалы.
type intervals []interval

// add добавляет [start, end) и объединяет пересекающиеся и смежные интервалы.
func (iv intervals) add(start, end int64) intervals {
	if start >= end {
		return iv
	}

	result := make(intervals, 0, len(iv)+1)
	i := 0
	for ; i < len(iv) && iv[i].end < start; i++ {
		result = append(result, iv[i])
	}
	merged := interval{start: start, end: end}
	for ; i < len(iv) && iv[i].start <= end; i++ {
		merged.start = min(merged.start, iv[i].start)
		merged.end = max(merged.end, iv[i].end)
	}
	result = append(result, merged)
	return append(result, iv[i:]...)
}

// covered — суммарная длина интервалов.
func (iv intervals) covered() int64 {
	var n int64
	for _, it := range iv {
		n += it.end - it.start
	}
	return n
}
