package storage

import (
	"encoding/json"
	"fmt"

	"github.com/shohag/hookshot/internal/models"
)

func encodeEndpointJSON(ep *models.Endpoint) (events, headers string) {
	events = "[]"
	if ep.Events != nil {
		b, _ := json.Marshal(ep.Events)
		events = string(b)
	}
	headers = "{}"
	if ep.Headers != nil {
		b, _ := json.Marshal(ep.Headers)
		headers = string(b)
	}
	return events, headers
}

func decodeEndpointJSON(ep *models.Endpoint, events, headers []byte) error {
	if err := json.Unmarshal(events, &ep.Events); err != nil {
		return fmt.Errorf("decode events for endpoint %s: %w", ep.ID, err)
	}
	if err := json.Unmarshal(headers, &ep.Headers); err != nil {
		return fmt.Errorf("decode headers for endpoint %s: %w", ep.ID, err)
	}
	return nil
}
