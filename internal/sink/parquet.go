package sink

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Codec is a parquet compression codec and the file name infix Spark uses
// for it.
type Codec struct {
	Codec parquet.CompressionCodec
	Ext   string
}

// ParseCodec resolves a codec by name.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "snappy":
		return Codec{parquet.CompressionCodec_SNAPPY, ".snappy"}, nil
	case "gzip":
		return Codec{parquet.CompressionCodec_GZIP, ".gz"}, nil
	case "zstd":
		return Codec{parquet.CompressionCodec_ZSTD, ".zstd"}, nil
	case "lz4":
		return Codec{parquet.CompressionCodec_LZ4, ".lz4"}, nil
	case "none", "uncompressed":
		return Codec{parquet.CompressionCodec_UNCOMPRESSED, ""}, nil
	default:
		return Codec{}, fmt.Errorf("unsupported parquet compression %q", name)
	}
}

// writerParallelism is the number of goroutines parquet-go uses per file.
const writerParallelism = 4

// writeParquetFile stores the data columns of rows in a single parquet file.
// A partially written file is removed on failure.
func writeParquetFile(path string, l *layout, rows []reflect.Value, codec Codec) (err error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create local file writer: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(path)
		}
	}()

	pw, err := writer.NewParquetWriter(fw, reflect.New(l.dataType).Interface(), writerParallelism)
	if err != nil {
		fw.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = codec.Codec

	for i, row := range rows {
		if err := pw.Write(l.project(row).Interface()); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("error writing record %d: %w", i, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("error in WriteStop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("error closing file writer: %w", err)
	}
	return nil
}
