package closeapi

import "time"

// Query builders for the Close advanced-search endpoint. The search payload
// is a tree of typed nodes; these helpers build the handful of shapes the
// commands need without repeating the nesting everywhere.

// Query is a node in a Close search query tree.
type Query = map[string]any

// And combines queries so all must match.
func And(queries ...Query) Query {
	return Query{"type": "and", "queries": queries}
}

// Or combines queries so any may match.
func Or(queries ...Query) Query {
	return Query{"type": "or", "queries": queries}
}

// ObjectTypeQuery restricts results to one object type ("lead",
// "opportunity").
func ObjectTypeQuery(objectType string) Query {
	return Query{"type": "object_type", "object_type": objectType}
}

// MatchAll matches every object.
func MatchAll() Query {
	return Query{"type": "match_all"}
}

// FieldCondition applies a condition to a regular field of an object type.
func FieldCondition(objectType, fieldName string, condition Query) Query {
	return Query{
		"type": "field_condition",
		"field": Query{
			"type":        "regular_field",
			"object_type": objectType,
			"field_name":  fieldName,
		},
		"condition": condition,
	}
}

// CustomFieldCondition applies a condition to a custom field by id
// (unprefixed, e.g. "cf_xxx").
func CustomFieldCondition(customFieldID string, condition Query) Query {
	return Query{
		"type": "field_condition",
		"field": Query{
			"type":            "custom_field",
			"custom_field_id": customFieldID,
		},
		"condition": condition,
	}
}

// ExistsCondition matches objects where the field has any value.
func ExistsCondition() Query {
	return Query{"type": "exists"}
}

// TermCondition matches a field against a fixed set of values.
func TermCondition(values ...any) Query {
	return Query{"type": "term", "values": values}
}

// ReferenceCondition matches a field against referenced object ids, e.g.
// opportunity status ids with referenceType "status.opportunity".
func ReferenceCondition(referenceType string, objectIDs ...string) Query {
	return Query{
		"type":           "reference",
		"reference_type": referenceType,
		"object_ids":     objectIDs,
	}
}

// HasRelated matches objects with a related object satisfying relatedQuery.
// With negate set it matches objects with NO such related object.
func HasRelated(thisType, relatedType string, relatedQuery Query, negate bool) Query {
	q := Query{
		"type":                "has_related",
		"this_object_type":    thisType,
		"related_object_type": relatedType,
		"related_query":       relatedQuery,
	}
	if negate {
		q["negate"] = true
	}
	return q
}

// DateRangeQuery matches a date field within [start, end], both inclusive,
// interpreted as local calendar days.
func DateRangeQuery(objectType, fieldName string, start, end time.Time) Query {
	return FieldCondition(objectType, fieldName, Query{
		"type": "moment_range",
		"on_or_after": Query{
			"type":          "fixed_local_date",
			"value":         start.Format("2006-01-02"),
			"which_day_end": "start",
		},
		"before": Query{
			"type":          "fixed_local_date",
			"value":         end.Format("2006-01-02"),
			"which_day_end": "end",
		},
	})
}

// OlderThanMonths matches a date field whose value is more than the given
// number of months in the past.
func OlderThanMonths(objectType, fieldName string, months int) Query {
	return olderThan(objectType, fieldName, Query{
		"years":   0,
		"months":  months,
		"weeks":   0,
		"days":    0,
		"hours":   0,
		"minutes": 0,
		"seconds": 0,
	})
}

// OlderThanMinutes matches a date field whose value is more than the given
// number of minutes in the past.
func OlderThanMinutes(objectType, fieldName string, minutes int) Query {
	return olderThan(objectType, fieldName, Query{
		"years":   0,
		"months":  0,
		"weeks":   0,
		"days":    0,
		"hours":   0,
		"minutes": minutes,
		"seconds": 0,
	})
}

func olderThan(objectType, fieldName string, offset Query) Query {
	return FieldCondition(objectType, fieldName, Query{
		"type": "moment_range",
		"before": Query{
			"type":          "offset",
			"direction":     "past",
			"moment":        Query{"type": "now"},
			"offset":        offset,
			"which_day_end": "start",
		},
		"on_or_after": nil,
	})
}
