package storage

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/epsimlab/epsim/internal/trace"
)

// WriteCSV writes a log as CSV: a time column followed by one column per
// variable. Values use the shortest exact decimal form so a round trip
// through LoadTrace is lossless.
func WriteCSV(w io.Writer, log *trace.Log) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := append([]string{"time"}, log.Names()...)
	if err := cw.Write(header); err != nil {
		return err
	}

	times := log.Times()
	row := make([]string, len(header))
	for i := range times {
		row[0] = strconv.FormatFloat(times[i], 'g', -1, 64)
		for j := range log.Names() {
			row[j+1] = strconv.FormatFloat(log.ColumnAt(j)[i], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportData is the JSON form of a run.
type ExportData struct {
	Model    string               `json:"model"`
	Duration float64              `json:"duration"`
	Samples  int                  `json:"samples"`
	Times    []float64            `json:"times"`
	Columns  map[string][]float64 `json:"columns"`
}

// WriteJSON writes a log with its run parameters as indented JSON.
func WriteJSON(w io.Writer, model string, duration float64, log *trace.Log) error {
	data := ExportData{
		Model:    model,
		Duration: duration,
		Samples:  log.Len(),
		Times:    log.Times(),
		Columns:  make(map[string][]float64, len(log.Names())),
	}
	for i, name := range log.Names() {
		data.Columns[name] = log.ColumnAt(i)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// ExportCSVFile writes a log to a CSV file.
func ExportCSVFile(path string, log *trace.Log) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteCSV(file, log)
}

// ExportJSONFile writes a log to a JSON file.
func ExportJSONFile(path, model string, duration float64, log *trace.Log) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteJSON(file, model, duration, log)
}
