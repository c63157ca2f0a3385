package model

import (
	"bytes"
	"encoding/json"
)

// Order is one pending order as returned by the order-history endpoint.
// Only the identifying fields are decoded; the rest of the payload is ignored.
// The gateway has been observed sending ids as both strings and numbers, so
// every id field goes through FlexID.
type Order struct {
	ID          FlexID
	OrderID     FlexID
	OrderNumber FlexID

	// Wire forms of id/order_id, kept so the delivery request can echo the
	// key exactly as the gateway sent it (numeric stays numeric).
	rawID      json.RawMessage
	rawOrderID json.RawMessage
}

func (o *Order) UnmarshalJSON(b []byte) error {
	var wire struct {
		ID          json.RawMessage `json:"id"`
		OrderID     json.RawMessage `json:"order_id"`
		OrderNumber json.RawMessage `json:"order_number"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	if err := decodeFlex(wire.ID, &o.ID); err != nil {
		return err
	}
	if err := decodeFlex(wire.OrderID, &o.OrderID); err != nil {
		return err
	}
	if err := decodeFlex(wire.OrderNumber, &o.OrderNumber); err != nil {
		return err
	}
	o.rawID = compactRaw(wire.ID)
	o.rawOrderID = compactRaw(wire.OrderID)
	return nil
}

func decodeFlex(raw json.RawMessage, dst *FlexID) error {
	if raw == nil {
		*dst = ""
		return nil
	}
	return dst.UnmarshalJSON(raw)
}

func compactRaw(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return raw
}

// Identifier is the id shown to the operator and used as the dedup-ledger key:
// order_number, else id, else order_id. Empty when the record carries none.
func (o Order) Identifier() string {
	return firstNonEmpty(o.OrderNumber, o.ID, o.OrderID)
}

// DeliveryKey is the id the deliver endpoint expects: order_id, else id.
func (o Order) DeliveryKey() string {
	return firstNonEmpty(o.OrderID, o.ID)
}

// DeliveryKeyJSON is the delivery key in the exact JSON form the gateway sent
// it (a numeric id is forwarded as a number). Orders built in-process fall
// back to a JSON string. Nil when the order carries no key.
func (o Order) DeliveryKeyJSON() json.RawMessage {
	switch {
	case o.OrderID != "" && len(o.rawOrderID) > 0:
		return o.rawOrderID
	case o.OrderID == "" && o.ID != "" && len(o.rawID) > 0:
		return o.rawID
	}
	key := o.DeliveryKey()
	if key == "" {
		return nil
	}
	b, _ := json.Marshal(key)
	return b
}

func firstNonEmpty(ids ...FlexID) string {
	for _, id := range ids {
		if id != "" {
			return string(id)
		}
	}
	return ""
}

// FlexID decodes a JSON string or number into its string form; null decodes
// to "".
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// Status is the monitor's last observed condition.
type Status string

const (
	StatusNoCookie      Status = "NO_COOKIE"
	StatusCheck         Status = "CHECK"
	StatusCookieExpired Status = "COOKIE_EXPIRED"
	StatusError         Status = "ERROR"
)

// StatusForCode maps a poll HTTP outcome to a monitor status.
func StatusForCode(code int) Status {
	switch {
	case code == 200:
		return StatusCheck
	case code == 401 || code == 403:
		return StatusCookieExpired
	default:
		return StatusError
	}
}

// MonitorSnapshot is what the status command reads. LastCheck is "" until the
// first poll completes.
type MonitorSnapshot struct {
	Running    bool
	LastCheck  string
	LastStatus Status
	LastHTTP   int
}
