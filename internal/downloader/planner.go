package downloader

// PlanRanges splits [0, totalSize) into rangeCount contiguous ranges. Every
// range but the last is totalSize/rangeCount bytes; the last one absorbs the
// remainder. rangeCount is clamped to [1, totalSize] so no range is empty.
func PlanRanges(totalSize int64, rangeCount int) []RangeSpec {
	if totalSize <= 0 {
		return nil
	}
	if rangeCount < 1 {
		rangeCount = 1
	}
	if int64(rangeCount) > totalSize {
		rangeCount = int(totalSize)
	}
	chunkSize := totalSize / int64(rangeCount)
	ranges := make([]RangeSpec, rangeCount)
	for i := range rangeCount {
		startByte := int64(i) * chunkSize
		endByte := startByte + chunkSize - 1
		if i == rangeCount-1 {
			endByte = totalSize - 1
		}
		ranges[i] = RangeSpec{ID: i, StartByte: startByte, EndByte: endByte}
	}
	return ranges
}
