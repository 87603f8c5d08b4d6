// Package inbound normalizes the gateway's webhook payloads. Every field
// name variant is resolved here so callers only see Message.
package inbound

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformedPayload = errors.New("invalid webhook payload format")

var (
	textFields   = []string{"message", "text", "body"}
	phoneFields  = []string{"number", "phone", "from", "sender"}
	deviceFields = []string{"deviceID", "deviceId", "device_id"}
	idFields     = []string{"ID", "id", "messageId"}
)

type Message struct {
	Text           string
	PhoneCandidate string
	DeviceID       string
	GatewayID      string
	Raw            json.RawMessage
	// Problem is set when the element cannot be processed on its own.
	Problem string
}

// Parse accepts a single message object, an array of them, or an object
// wrapping the array under "messages".
func Parse(body []byte) ([]Message, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrMalformedPayload
	}

	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return parseItems(items), nil

	case '{':
		fields, err := decodeObject(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if wrapped, ok := fields["messages"]; ok {
			var items []json.RawMessage
			if err := json.Unmarshal(wrapped, &items); err != nil {
				return nil, fmt.Errorf("%w: messages must be an array", ErrMalformedPayload)
			}
			return parseItems(items), nil
		}
		m := fromFields(body, fields)
		if m.Problem != "" {
			return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, m.Problem)
		}
		return []Message{m}, nil
	}

	return nil, ErrMalformedPayload
}

func parseItems(items []json.RawMessage) []Message {
	out := make([]Message, 0, len(items))
	for _, raw := range items {
		fields, err := decodeObject(raw)
		if err != nil {
			out = append(out, Message{Raw: raw, Problem: "message must be an object"})
			continue
		}
		out = append(out, fromFields(raw, fields))
	}
	return out
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("null object")
	}
	return fields, nil
}

func fromFields(raw []byte, fields map[string]json.RawMessage) Message {
	m := Message{
		Raw:            append(json.RawMessage(nil), raw...),
		Text:           first(fields, textFields),
		PhoneCandidate: first(fields, phoneFields),
		DeviceID:       first(fields, deviceFields),
		GatewayID:      first(fields, idFields),
	}
	if strings.TrimSpace(m.Text) == "" {
		m.Problem = "Message field is required"
	}
	return m
}

func first(fields map[string]json.RawMessage, names []string) string {
	for _, n := range names {
		if v := scalar(fields[n]); v != "" {
			return v
		}
	}
	return ""
}

// scalar renders a JSON string or number as text; anything else is empty.
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return ""
		}
		return n.String()
	}
	return ""
}
