package fetch

// Part is one byte range of a chunked download. Start and End are a closed
// interval, matching the HTTP Range header.
type Part struct {
	Index int
	Start int64
	End   int64
}

// Len returns the number of bytes the part covers.
func (p Part) Len() int64 {
	return p.End - p.Start + 1
}

// Partition splits [0, totalSize-1] into partCount contiguous closed ranges.
// The split is as even as integer division allows; the final part absorbs
// the remainder, so the union is exactly [0, totalSize-1] with no overlap
// and no gap. A totalSize too small to split collapses to a single part.
func Partition(totalSize int64, partCount int) []Part {
	if totalSize <= 0 {
		return nil
	}
	if partCount < 1 {
		partCount = 1
	}

	partSize := totalSize / int64(partCount)
	if partSize == 0 {
		partCount = 1
		partSize = totalSize
	}

	parts := make([]Part, partCount)
	for i := 0; i < partCount; i++ {
		start := int64(i) * partSize
		end := start + partSize - 1
		if i == partCount-1 {
			end = totalSize - 1
		}
		parts[i] = Part{Index: i, Start: start, End: end}
	}
	return parts
}
