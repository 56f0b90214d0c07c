package model

import "strconv"

// Resolve переводит диапазон в смещение и длину для копии размером size.
// Только Start — до конца копии, только End — от начала. End за пределами
// копии обрезается. Start < 0, End < Start или Start >= size → ErrInvalidRange.
// Полный диапазон допустим для любого размера, в том числе нулевого.
func (r ByteRange) Resolve(size int64) (offset, length int64, err error) {
	if r.IsFull() {
		return 0, size, nil
	}

	start := int64(0)
	if r.Start != nil {
		start = *r.Start
	}
	end := size - 1
	if r.End != nil {
		end = *r.End
	}

	if start < 0 || end < start || start >= size {
		return 0, 0, NewError(ErrInvalidRange, "Invalid range: %s for size %d", r, size)
	}
	end = min(end, size-1)
	return start, end - start + 1, nil
}

func (r ByteRange) String() string {
	s, e := "", ""
	if r.Start != nil {
		s = strconv.FormatInt(*r.Start, 10)
	}
	if r.End != nil {
		e = strconv.FormatInt(*r.End, 10)
	}
	return "[" + s + "," + e + "]"
}
