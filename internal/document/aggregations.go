package document

// termsBucketSize caps each quick-filter facet.
const termsBucketSize = 10

// dateRanges are the fixed quick-filter ranges offered for a date field.
var dateRanges = []map[string]any{
	{"key": "today", "from": "now/d"},
	{"key": "yesterday", "from": "now-1d/d", "to": "now/d"},
	{"key": "last_7_days", "from": "now-7d/d"},
	{"key": "last_30_days", "from": "now-30d/d"},
	{"key": "this_month", "from": "now/M"},
}

// BuildAggregations returns one terms aggregation per field, plus a daily
// histogram and the fixed relative ranges when dateField is set.
func BuildAggregations(fields []string, dateField string) map[string]any {
	aggs := make(map[string]any, len(fields)+2)
	for _, field := range fields {
		if field == "" {
			continue
		}
		aggs[field] = map[string]any{
			"terms": map[string]any{"field": field, "size": termsBucketSize},
		}
	}

	if dateField != "" {
		aggs[dateField+"_histogram"] = map[string]any{
			"date_histogram": map[string]any{
				"field":             dateField,
				"calendar_interval": "day",
			},
		}
		aggs[dateField+"_ranges"] = map[string]any{
			"date_range": map[string]any{
				"field":  dateField,
				"ranges": dateRanges,
			},
		}
	}
	return aggs
}
