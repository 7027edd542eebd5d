package cmd

import "fmt"

// Partition is one contiguous, inclusive row number range exported to its
// own file. Partitions of a job tile [0, count*chunkSize) without overlap.
type Partition struct {
	Index     int
	Start     int64
	End       int64
	ChunkSize int64
}

// Ordinal is the 1-based number used in the output file name
func (p Partition) Ordinal() int64 {
	return p.Start/p.ChunkSize + 1
}

// Size is the number of row numbers the partition covers
func (p Partition) Size() int64 {
	return p.End - p.Start + 1
}

// TaskID identifies the partition task in logs and reports
func (p Partition) TaskID() string {
	return fmt.Sprintf("task_%d", p.Index)
}

func (p Partition) String() string {
	return fmt.Sprintf("%s [%d-%d]", p.TaskID(), p.Start, p.End)
}

// partitionCount returns how many partitions cover total rows. Above one
// chunk the count is total/chunkSize+1, so an exact multiple of the chunk
// size gets one trailing partition that matches no rows.
func partitionCount(total, chunkSize int64) int64 {
	if total <= 0 {
		return 0
	}
	if total > chunkSize {
		return total/chunkSize + 1
	}
	return 1
}

// PlanPartitions splits total rows into consecutive fixed-size partitions
// starting at row number 0
func PlanPartitions(total, chunkSize int64) []Partition {
	if chunkSize <= 0 {
		return nil
	}

	count := partitionCount(total, chunkSize)
	partitions := make([]Partition, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		partitions = append(partitions, Partition{
			Index:     int(i),
			Start:     start,
			End:       start + chunkSize - 1,
			ChunkSize: chunkSize,
		})
	}
	return partitions
}
