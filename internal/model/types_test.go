package model

import (
	"encoding/json"
	"testing"
)

func TestFlexIDDecoding(t *testing.T) {
	var o Order
	payload := `{"id": 991, "order_id": "OD-5", "order_number": null}`
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if o.ID != "991" {
		t.Fatalf("numeric id: got %q", o.ID)
	}
	if o.OrderID != "OD-5" {
		t.Fatalf("string order_id: got %q", o.OrderID)
	}
	if o.OrderNumber != "" {
		t.Fatalf("null order_number: got %q", o.OrderNumber)
	}
}

func TestIdentifierFallbacks(t *testing.T) {
	cases := []struct {
		name      string
		o         Order
		wantIdent string
		wantKey   string
	}{
		{"all set", Order{ID: "1", OrderID: "2", OrderNumber: "INV-9"}, "INV-9", "2"},
		{"no order number", Order{ID: "1", OrderID: "2"}, "1", "2"},
		{"only order id", Order{OrderID: "2"}, "2", "2"},
		{"only raw id", Order{ID: "1"}, "1", "1"},
		{"empty", Order{}, "", ""},
	}
	for _, tc := range cases {
		if got := tc.o.Identifier(); got != tc.wantIdent {
			t.Errorf("%s: Identifier()=%q want %q", tc.name, got, tc.wantIdent)
		}
		if got := tc.o.DeliveryKey(); got != tc.wantKey {
			t.Errorf("%s: DeliveryKey()=%q want %q", tc.name, got, tc.wantKey)
		}
	}
}

func TestDeliveryKeyJSONKeepsWireForm(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"numeric order_id", `{"id": "X", "order_id": 991}`, `991`},
		{"string order_id", `{"order_id": "OD-5"}`, `"OD-5"`},
		{"numeric id fallback", `{"id": 77, "order_number": "N1"}`, `77`},
		{"null order_id falls back to id", `{"id": "A9", "order_id": null}`, `"A9"`},
		{"no key", `{"order_number": "N1"}`, ``},
	}
	for _, tc := range cases {
		var o Order
		if err := json.Unmarshal([]byte(tc.payload), &o); err != nil {
			t.Fatalf("%s: unmarshal: %v", tc.name, err)
		}
		if got := string(o.DeliveryKeyJSON()); got != tc.want {
			t.Errorf("%s: DeliveryKeyJSON()=%s want %s", tc.name, got, tc.want)
		}
	}
}

func TestDeliveryKeyJSONFromLiteralOrder(t *testing.T) {
	o := Order{OrderID: "D7"}
	if got := string(o.DeliveryKeyJSON()); got != `"D7"` {
		t.Fatalf("literal order key: %s", got)
	}
}

func TestStatusForCode(t *testing.T) {
	if StatusForCode(200) != StatusCheck {
		t.Fatalf("200")
	}
	if StatusForCode(401) != StatusCookieExpired || StatusForCode(403) != StatusCookieExpired {
		t.Fatalf("auth codes")
	}
	if StatusForCode(500) != StatusError || StatusForCode(-1) != StatusError {
		t.Fatalf("other codes")
	}
}
