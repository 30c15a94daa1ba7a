package exports

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"nhbmarket/core/events"
)

type eventRow struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=UTF8, encoding=PLAIN_DICTIONARY"`
	ProductID  int64  `parquet:"name=product_id, type=INT64"`
	Owner      string `parquet:"name=owner, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Price      string `parquet:"name=price, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Attributes string `parquet:"name=attributes, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Digest     string `parquet:"name=digest, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

func rowFromRecord(rec events.Record) (*eventRow, error) {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return nil, err
	}
	row := &eventRow{
		Sequence:   int64(rec.Sequence),
		Type:       rec.Type,
		Owner:      rec.Attributes["owner"],
		Price:      rec.Attributes["price"],
		Attributes: string(attrs),
		Digest:     rec.Digest,
	}
	if raw, ok := rec.Attributes["id"]; ok {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			row.ProductID = id
		}
	}
	return row, nil
}

// WriteEventsParquet writes records to a SNAPPY-compressed Parquet file at
// path, one row per record.
func WriteEventsParquet(path string, records []events.Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(eventRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row, err := rowFromRecord(rec)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("exports: record %d: %w", rec.Sequence, err)
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}
