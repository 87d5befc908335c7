package writer

import (
	"fmt"
	"os"
)

// sensorTemplateHeader is the fixed header of the sensor schema file
// consumed by the uploader.
const sensorTemplateHeader = "alias,variablename,postprocess,units,datatype"

// sensorTemplateRow describes one published variable.
type sensorTemplateRow struct {
	alias, variableName, postprocess, units, datatype string
}

var sensorTemplateRows = []sensorTemplateRow{
	{"Precipitation", "precipitation", "none", "mm", "float"},
	{"Temperature", "temperature", "none", "degC", "float"},
	{"Humidity", "humidity", "none", "percent", "float"},
	{"Flooding", "flooding", "none", "bool", "int"},
}

// writeSensorTemplate materializes the static sensor-template file
// once, if it doesn't already exist.
func writeSensorTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, sensorTemplateHeader); err != nil {
		return err
	}
	for _, row := range sensorTemplateRows {
		if _, err := fmt.Fprintf(f, "%s\t%s\t%s\t%s\t%s\n", row.alias, row.variableName, row.postprocess, row.units, row.datatype); err != nil {
			return err
		}
	}
	return nil
}
