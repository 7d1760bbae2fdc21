package permission

import "time"

// DataSource identifies the national or regional administrator a permission
// request is brokered against.
type DataSource struct {
	CountryCode     string `json:"country_code"`
	AdministratorID string `json:"administrator_id"`
}

// ConnectionStatusMessage is the outward, read-only projection of one
// lifecycle event, published on the status stream.
type ConnectionStatusMessage struct {
	PermissionID string         `json:"permission_id"`
	ConnectionID string         `json:"connection_id"`
	DataNeedID   string         `json:"data_need_id"`
	DataSource   DataSource     `json:"data_source"`
	Timestamp    time.Time      `json:"timestamp"`
	Status       Status         `json:"status"`
	Message      string         `json:"message,omitempty"`
	Additional   map[string]any `json:"additional_information,omitempty"`
}
