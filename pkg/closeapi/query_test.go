package closeapi

import (
	"testing"
	"time"
)

func TestDateRangeQuery(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	q := DateRangeQuery("opportunity", "date_won", start, end)

	if q["type"] != "field_condition" {
		t.Errorf("type = %v, want field_condition", q["type"])
	}

	field := q["field"].(Query)
	if field["object_type"] != "opportunity" || field["field_name"] != "date_won" {
		t.Errorf("field = %v, want opportunity/date_won", field)
	}

	condition := q["condition"].(Query)
	if condition["type"] != "moment_range" {
		t.Errorf("condition type = %v, want moment_range", condition["type"])
	}

	onOrAfter := condition["on_or_after"].(Query)
	if onOrAfter["value"] != "2024-01-01" || onOrAfter["which_day_end"] != "start" {
		t.Errorf("on_or_after = %v, want 2024-01-01 at day start", onOrAfter)
	}

	before := condition["before"].(Query)
	if before["value"] != "2024-01-31" || before["which_day_end"] != "end" {
		t.Errorf("before = %v, want 2024-01-31 at day end", before)
	}
}

func TestOlderThanMonths(t *testing.T) {
	q := OlderThanMonths("opportunity", "date_updated", 6)

	condition := q["condition"].(Query)
	if condition["on_or_after"] != nil {
		t.Errorf("on_or_after = %v, want nil (open-ended past)", condition["on_or_after"])
	}

	before := condition["before"].(Query)
	if before["direction"] != "past" {
		t.Errorf("direction = %v, want past", before["direction"])
	}

	offset := before["offset"].(Query)
	if offset["months"] != 6 {
		t.Errorf("offset months = %v, want 6", offset["months"])
	}
}

func TestAndNesting(t *testing.T) {
	q := And(
		ObjectTypeQuery("opportunity"),
		FieldCondition("opportunity", "status_type", TermCondition("active")),
	)

	if q["type"] != "and" {
		t.Errorf("type = %v, want and", q["type"])
	}

	queries := q["queries"].([]Query)
	if len(queries) != 2 {
		t.Fatalf("queries = %d, want 2", len(queries))
	}
	if queries[0]["object_type"] != "opportunity" {
		t.Errorf("first query = %v, want object_type opportunity", queries[0])
	}
}

func TestHasRelated(t *testing.T) {
	q := HasRelated("lead", "custom_object", MatchAll(), true)

	if q["negate"] != true {
		t.Errorf("negate = %v, want true", q["negate"])
	}
	if q["this_object_type"] != "lead" || q["related_object_type"] != "custom_object" {
		t.Errorf("object types = %v/%v, want lead/custom_object",
			q["this_object_type"], q["related_object_type"])
	}
}
