package closeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/bariendo/close-ops/pkg/cache"
)

// CustomField is a Close custom field definition.
type CustomField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Status is a lead or opportunity status definition. Type is only set for
// opportunity statuses ("active", "won", "lost").
type Status struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

// User is a Close organization member.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DisplayName returns "First Last" the way the Close UI shows users.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// fetchSchemaList fetches a schema list endpoint through the cache. On a
// cache miss (or with no Redis configured) the list is fetched from the API
// and, when caching is available, stored for the next run.
func (c *Client) fetchSchemaList(ctx context.Context, endpoint string, key cache.Key, dest any) error {
	if c.schema != nil {
		if err := c.schema.GetJSON(ctx, key, dest); err == nil {
			return nil
		}
	}

	records, err := c.GetAll(ctx, endpoint, ListOptions{})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", endpoint, err)
	}

	// Re-marshal the page union so dest gets the full list in one decode.
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal %s records: %w", endpoint, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s records: %w", endpoint, err)
	}

	if c.schema != nil {
		if err := c.schema.SetJSON(ctx, key, dest); err != nil {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache schema list")
		}
	}
	return nil
}

// RefreshSchema drops every cached schema entry so the next lookups fetch
// fresh definitions. Needed after an admin edits custom fields or statuses
// mid-TTL. No-op without Redis.
func (c *Client) RefreshSchema(ctx context.Context) error {
	if c.schema == nil {
		return nil
	}

	keys := []cache.Key{
		{Kind: "custom_fields", ObjectType: "lead"},
		{Kind: "custom_fields", ObjectType: "contact"},
		{Kind: "custom_fields", ObjectType: "opportunity"},
		{Kind: "custom_fields", ObjectType: "activity"},
		{Kind: "statuses", ObjectType: "lead"},
		{Kind: "statuses", ObjectType: "opportunity"},
		{Kind: "users"},
		{Kind: "activity_types"},
		{Kind: "custom_object_types"},
	}
	for _, key := range keys {
		if err := c.schema.Delete(ctx, key); err != nil {
			return fmt.Errorf("invalidate %s: %w", key.String(), err)
		}
	}
	return nil
}

// CustomFields returns the custom field definitions for an object type
// ("lead", "contact", "opportunity", "activity", ...).
func (c *Client) CustomFields(ctx context.Context, objectType string) ([]CustomField, error) {
	var fields []CustomField
	key := cache.Key{Kind: "custom_fields", ObjectType: objectType}
	if err := c.fetchSchemaList(ctx, "custom_field/"+objectType, key, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// CustomFieldIDByName resolves a custom field name to its field id.
func (c *Client) CustomFieldIDByName(ctx context.Context, objectType, name string) (string, error) {
	fields, err := c.CustomFields(ctx, objectType)
	if err != nil {
		return "", err
	}
	for _, field := range fields {
		if field.Name == name {
			return field.ID, nil
		}
	}
	return "", fmt.Errorf("%s custom field %q: %w", objectType, name, ErrNotFound)
}

// PrefixedCustomFieldID resolves a custom field name to the "custom.cf_xxx"
// form used as a payload key in update requests and _fields selections.
func (c *Client) PrefixedCustomFieldID(ctx context.Context, objectType, name string) (string, error) {
	id, err := c.CustomFieldIDByName(ctx, objectType, name)
	if err != nil {
		return "", err
	}
	return "custom." + id, nil
}

// CustomFieldIDNameMapping returns field id -> field name for an object type.
// Useful when turning fetched records back into human-readable exports.
func (c *Client) CustomFieldIDNameMapping(ctx context.Context, objectType string) (map[string]string, error) {
	fields, err := c.CustomFields(ctx, objectType)
	if err != nil {
		return nil, err
	}
	mapping := make(map[string]string, len(fields))
	for _, field := range fields {
		mapping[field.ID] = field.Name
	}
	return mapping, nil
}

// CustomFieldNamePrefixedIDMapping returns field name -> "custom.cf_xxx" for
// an object type, for building update payloads from readable field names.
func (c *Client) CustomFieldNamePrefixedIDMapping(ctx context.Context, objectType string) (map[string]string, error) {
	fields, err := c.CustomFields(ctx, objectType)
	if err != nil {
		return nil, err
	}
	mapping := make(map[string]string, len(fields))
	for _, field := range fields {
		mapping[field.Name] = "custom." + field.ID
	}
	return mapping, nil
}

// LeadStatuses returns the organization's lead statuses.
func (c *Client) LeadStatuses(ctx context.Context) ([]Status, error) {
	var statuses []Status
	key := cache.Key{Kind: "statuses", ObjectType: "lead"}
	if err := c.fetchSchemaList(ctx, "status/lead", key, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// OpportunityStatuses returns the organization's opportunity statuses.
func (c *Client) OpportunityStatuses(ctx context.Context) ([]Status, error) {
	var statuses []Status
	key := cache.Key{Kind: "statuses", ObjectType: "opportunity"}
	if err := c.fetchSchemaList(ctx, "status/opportunity", key, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// StatusIDByLabel resolves a status label ("Qualified", "Stale") to its id
// within the given status list.
func StatusIDByLabel(statuses []Status, label string) (string, error) {
	for _, status := range statuses {
		if status.Label == label {
			return status.ID, nil
		}
	}
	return "", fmt.Errorf("status %q: %w", label, ErrNotFound)
}

// StatusIDByLabelAndType resolves an opportunity status by label, requiring
// it to carry the given status type ("active", "won", "lost"). Guards bulk
// status changes against a mislabeled status of the wrong type.
func StatusIDByLabelAndType(statuses []Status, label, statusType string) (string, error) {
	for _, status := range statuses {
		if status.Label == label && status.Type == statusType {
			return status.ID, nil
		}
	}
	return "", fmt.Errorf("status %q of type %q: %w", label, statusType, ErrNotFound)
}

// Users returns the organization's members.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	key := cache.Key{Kind: "users"}
	if err := c.fetchSchemaList(ctx, "user", key, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// UserIDsByEmail resolves user emails to ids, preserving input order.
// Unknown emails are reported together so a typo surfaces immediately.
func (c *Client) UserIDsByEmail(ctx context.Context, emails []string) ([]string, error) {
	users, err := c.Users(ctx)
	if err != nil {
		return nil, err
	}

	byEmail := make(map[string]string, len(users))
	for _, user := range users {
		byEmail[strings.ToLower(user.Email)] = user.ID
	}

	ids := make([]string, 0, len(emails))
	var missing []string
	for _, email := range emails {
		id, ok := byEmail[strings.ToLower(email)]
		if !ok {
			missing = append(missing, email)
			continue
		}
		ids = append(ids, id)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("users %s: %w", strings.Join(missing, ", "), ErrNotFound)
	}
	return ids, nil
}

// FindUser resolves a user by id, email, or "First Last" display name,
// matching whichever form the operator typed.
func (c *Client) FindUser(ctx context.Context, identifier string) (*User, error) {
	users, err := c.Users(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.TrimSpace(identifier)
	for i := range users {
		user := &users[i]
		if user.ID == needle ||
			strings.EqualFold(user.Email, needle) ||
			strings.EqualFold(user.DisplayName(), needle) {
			return user, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", identifier, ErrNotFound)
}

// customActivityType is the subset of the custom activity type schema the
// scripts need.
type customActivityType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CustomActivityTypeID resolves a custom activity type name (e.g. "Refund")
// to its actitype id.
func (c *Client) CustomActivityTypeID(ctx context.Context, name string) (string, error) {
	var types []customActivityType
	key := cache.Key{Kind: "activity_types"}
	if err := c.fetchSchemaList(ctx, "custom_activity", key, &types); err != nil {
		return "", err
	}
	for _, t := range types {
		if t.Name == name {
			return t.ID, nil
		}
	}
	return "", fmt.Errorf("custom activity type %q: %w", name, ErrNotFound)
}

// customObjectType is the subset of the custom object type schema the
// scripts need.
type customObjectType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CustomObjectTypeID resolves a custom object type name to its id.
func (c *Client) CustomObjectTypeID(ctx context.Context, name string) (string, error) {
	var types []customObjectType
	key := cache.Key{Kind: "custom_object_types"}
	if err := c.fetchSchemaList(ctx, "custom_object_type", key, &types); err != nil {
		return "", err
	}
	for _, t := range types {
		if t.Name == name {
			return t.ID, nil
		}
	}
	return "", fmt.Errorf("custom object type %q: %w", name, ErrNotFound)
}

// CustomActivityInstances fetches all instances of a custom activity type,
// optionally bounded by creation date (inclusive start, exclusive end,
// RFC 3339 or date-only strings).
func (c *Client) CustomActivityInstances(ctx context.Context, activityTypeID, dateStart, dateEnd string) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("custom_activity_type_id", activityTypeID)
	if dateStart != "" {
		params.Set("date_created__gte", dateStart)
	}
	if dateEnd != "" {
		params.Set("date_created__lt", dateEnd)
	}
	return c.GetAll(ctx, "activity/custom", ListOptions{Params: params})
}
