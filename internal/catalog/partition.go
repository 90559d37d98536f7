package catalog

import (
	iceberg "github.com/polarsignals/iceberg-go"
)

// BuildHourlyPartitionSpec synthesizes the year/month/day/hour partition
// spec, all four transforms over the single "timestamp" column identified
// by timestampFieldID (its Arrow field_id, assigned in internal/arrowschema).
func BuildHourlyPartitionSpec(timestampFieldID int) iceberg.PartitionSpec {
	return iceberg.NewPartitionSpec(
		iceberg.PartitionField{SourceID: timestampFieldID, FieldID: 1000, Name: "year", Transform: iceberg.YearTransform{}},
		iceberg.PartitionField{SourceID: timestampFieldID, FieldID: 1001, Name: "month", Transform: iceberg.MonthTransform{}},
		iceberg.PartitionField{SourceID: timestampFieldID, FieldID: 1002, Name: "day", Transform: iceberg.DayTransform{}},
		iceberg.PartitionField{SourceID: timestampFieldID, FieldID: 1003, Name: "hour", Transform: iceberg.HourTransform{}},
	)
}
