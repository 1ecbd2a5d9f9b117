// Package export serialises frame records as CSV or JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/banshee-data/laneguard/internal/aggregate"
)

// TimestampLayout is the CSV timestamp format.
const TimestampLayout = "2006-01-02 15:04:05"

// CSVHeader is the column set of the CSV export.
var CSVHeader = []string{
	"Timestamp",
	"Current_Vehicles_in_ROI",
	"Violation_Count",
	"Street_Name",
	"Latitude",
	"Longitude",
	"Hour_of_Day",
	"Day_of_Week",
	"Total_Count",
}

// CSVRow formats one record in CSVHeader order.
func CSVRow(r aggregate.FrameRecord) []string {
	return []string{
		r.Timestamp.Format(TimestampLayout),
		strconv.Itoa(r.CurrentInROI),
		strconv.Itoa(r.ViolationTotal),
		r.StreetName,
		strconv.FormatFloat(r.Latitude, 'f', -1, 64),
		strconv.FormatFloat(r.Longitude, 'f', -1, 64),
		strconv.Itoa(r.HourOfDay),
		r.DayOfWeek,
		strconv.Itoa(r.UniqueVehicleTotal),
	}
}

// WriteCSV writes the header and one row per record.
func WriteCSV(w io.Writer, records []aggregate.FrameRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(CSVRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a file written by WriteCSV. Timestamps are read in loc
// (UTC when nil) and frame indices are assigned sequentially.
func ReadCSV(r io.Reader, loc *time.Location) ([]aggregate.FrameRecord, error) {
	if loc == nil {
		loc = time.UTC
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CSVHeader)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range CSVHeader {
		if header[i] != h {
			return nil, fmt.Errorf("column %d: expected %q, got %q", i+1, h, header[i])
		}
	}

	var out []aggregate.FrameRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		rec, err := parseRow(row, loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec.Frame = len(out)
		out = append(out, rec)
	}
}

func parseRow(row []string, loc *time.Location) (aggregate.FrameRecord, error) {
	var (
		r   aggregate.FrameRecord
		err error
	)
	if r.Timestamp, err = time.ParseInLocation(TimestampLayout, row[0], loc); err != nil {
		return r, err
	}
	ints := []struct {
		dst *int
		s   string
	}{
		{&r.CurrentInROI, row[1]},
		{&r.ViolationTotal, row[2]},
		{&r.HourOfDay, row[6]},
		{&r.UniqueVehicleTotal, row[8]},
	}
	for _, f := range ints {
		if *f.dst, err = strconv.Atoi(f.s); err != nil {
			return r, err
		}
	}
	r.StreetName = row[3]
	if r.Latitude, err = strconv.ParseFloat(row[4], 64); err != nil {
		return r, err
	}
	if r.Longitude, err = strconv.ParseFloat(row[5], 64); err != nil {
		return r, err
	}
	r.DayOfWeek = row[7]
	return r, nil
}

// WriteJSON writes records as an indented JSON array with RFC 3339
// timestamps.
func WriteJSON(w io.Writer, records []aggregate.FrameRecord) error {
	if records == nil {
		records = []aggregate.FrameRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
