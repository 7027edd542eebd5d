package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestChunkWriterWritesPartition(t *testing.T) {
	config := testExportConfig(t, 100)
	source := &fakeSource{total: 250}
	reporter := newRecordingReporter()

	writer, err := NewChunkWriter(config, source, reporter, testLogger())
	require.NoError(t, err)

	p := PlanPartitions(250, 100)[1]
	result := writer.WriteChunk(context.Background(), p, HeaderFields{"name", "value"})

	require.NoError(t, result.Err)
	assert.Equal(t, "task_1", result.TaskID)
	assert.Equal(t, int64(100), result.Rows)
	assert.Equal(t, filepath.Join(config.Output.Dir, "people_2.csv"), result.Path)

	lines := strings.Split(strings.TrimSuffix(readFile(t, result.Path), "\n"), "\n")
	require.Len(t, lines, 101)
	assert.Equal(t, "name,value", lines[0])
	assert.Equal(t, "name_100,100", lines[1])
	assert.Equal(t, "name_199,199", lines[100])

	assert.Equal(t, []int{1}, reporter.started)
	require.Len(t, reporter.finished, 1)
	assert.Equal(t, []int64{100}, reporter.progress[1])
}

func TestChunkWriterProgressInterval(t *testing.T) {
	config := testExportConfig(t, 1500)
	reporter := newRecordingReporter()
	writer, err := NewChunkWriter(config, &fakeSource{total: 1500}, reporter, testLogger())
	require.NoError(t, err)

	result := writer.WriteChunk(context.Background(), PlanPartitions(1500, 1500)[0], HeaderFields{"name", "value"})
	require.NoError(t, result.Err)
	assert.Equal(t, []int64{1000, 1500}, reporter.progress[0])
}

func TestChunkWriterShortPartitionHasNoFinalProgress(t *testing.T) {
	config := testExportConfig(t, 1500)
	reporter := newRecordingReporter()
	writer, err := NewChunkWriter(config, &fakeSource{total: 1200}, reporter, testLogger())
	require.NoError(t, err)

	result := writer.WriteChunk(context.Background(), PlanPartitions(1200, 1500)[0], HeaderFields{"name", "value"})
	require.NoError(t, result.Err)
	assert.Equal(t, int64(1200), result.Rows)
	assert.Equal(t, []int64{1000}, reporter.progress[0])
}

func TestChunkWriterEmptyPartition(t *testing.T) {
	config := testExportConfig(t, 100)
	writer, err := NewChunkWriter(config, &fakeSource{total: 200}, newRecordingReporter(), testLogger())
	require.NoError(t, err)

	// Trailing partition of an exact multiple matches no rows
	p := PlanPartitions(200, 100)[2]
	result := writer.WriteChunk(context.Background(), p, HeaderFields{"name", "value"})

	require.NoError(t, result.Err)
	assert.Equal(t, int64(0), result.Rows)
	assert.Equal(t, "name,value\n", readFile(t, result.Path))
}

func TestChunkWriterFailurePolicy(t *testing.T) {
	t.Run("leave keeps partial file", func(t *testing.T) {
		config := testExportConfig(t, 100)
		source := &fakeSource{total: 100, failAfter: map[int64]int{0: 10}}
		writer, err := NewChunkWriter(config, source, newRecordingReporter(), testLogger())
		require.NoError(t, err)

		result := writer.WriteChunk(context.Background(), PlanPartitions(100, 100)[0], HeaderFields{"name", "value"})
		assert.ErrorIs(t, result.Err, ErrQuery)
		assert.Equal(t, int64(10), result.Rows)

		lines := strings.Split(strings.TrimSuffix(readFile(t, result.Path), "\n"), "\n")
		assert.Len(t, lines, 11)
	})

	t.Run("delete removes partial file", func(t *testing.T) {
		config := testExportConfig(t, 100)
		config.Output.OnFailure = FailurePolicyDelete
		source := &fakeSource{total: 100, failAfter: map[int64]int{0: 10}}
		writer, err := NewChunkWriter(config, source, newRecordingReporter(), testLogger())
		require.NoError(t, err)

		result := writer.WriteChunk(context.Background(), PlanPartitions(100, 100)[0], HeaderFields{"name", "value"})
		assert.ErrorIs(t, result.Err, ErrQuery)
		_, statErr := os.Stat(result.Path)
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestChunkWriterOutputError(t *testing.T) {
	config := testExportConfig(t, 100)
	config.Output.Dir = filepath.Join(config.Output.Dir, "missing")
	writer, err := NewChunkWriter(config, &fakeSource{total: 10}, newRecordingReporter(), testLogger())
	require.NoError(t, err)

	result := writer.WriteChunk(context.Background(), PlanPartitions(10, 100)[0], HeaderFields{"name"})
	assert.ErrorIs(t, result.Err, ErrOutput)
	assert.Equal(t, int64(0), result.Rows)
}

func TestChunkWriterCompression(t *testing.T) {
	config := testExportConfig(t, 100)
	config.Output.Compression = "zstd"
	config.Output.CompressionLevel = 3

	writer, err := NewChunkWriter(config, &fakeSource{total: 5}, newRecordingReporter(), testLogger())
	require.NoError(t, err)

	result := writer.WriteChunk(context.Background(), PlanPartitions(5, 100)[0], HeaderFields{"name", "value"})
	require.NoError(t, result.Err)
	assert.True(t, strings.HasSuffix(result.Path, "people_1.csv.zst"))

	file, err := os.Open(result.Path)
	require.NoError(t, err)
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	require.NoError(t, err)
	defer decoder.Close()

	data, err := io.ReadAll(decoder)
	require.NoError(t, err)
	assert.Equal(t, "name,value\nname_0,0\nname_1,1\nname_2,2\nname_3,3\nname_4,4\n", string(data))
}

func TestChunkWriterParquetIgnoresStreamCompression(t *testing.T) {
	config := testExportConfig(t, 100)
	config.Output.Format = "parquet"
	config.Output.Compression = "zstd"
	config.Output.CompressionLevel = 3

	writer, err := NewChunkWriter(config, &fakeSource{total: 5}, newRecordingReporter(), testLogger())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(config.Output.Dir, "people_1.parquet"), writer.FilePath(PlanPartitions(5, 100)[0]))
}

func TestChunkWriterUpload(t *testing.T) {
	t.Run("uploads finished file", func(t *testing.T) {
		config := testExportConfig(t, 100)
		config.S3 = S3Config{Bucket: "exports", PathTemplate: "{prefix}/{file}"}

		uploader := &fakeUploader{}
		writer, err := NewChunkWriter(config, &fakeSource{total: 5}, newRecordingReporter(), testLogger())
		require.NoError(t, err)
		writer.WithUploader(uploader)

		result := writer.WriteChunk(context.Background(), PlanPartitions(5, 100)[0], HeaderFields{"name", "value"})
		require.NoError(t, result.Err)
		assert.Equal(t, "people/people_1.csv", result.ObjectKey)
		assert.Equal(t, []string{"people/people_1.csv"}, uploader.keys)
	})

	t.Run("upload failure fails the partition", func(t *testing.T) {
		config := testExportConfig(t, 100)
		config.S3 = S3Config{Bucket: "exports", PathTemplate: "{file}"}

		writer, err := NewChunkWriter(config, &fakeSource{total: 5}, newRecordingReporter(), testLogger())
		require.NoError(t, err)
		writer.WithUploader(&fakeUploader{err: errors.New("access denied")})

		result := writer.WriteChunk(context.Background(), PlanPartitions(5, 100)[0], HeaderFields{"name", "value"})
		assert.ErrorIs(t, result.Err, ErrUpload)
		assert.Empty(t, result.ObjectKey)
		assert.Equal(t, int64(5), result.Rows)
	})
}
