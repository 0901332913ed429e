// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codec

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

type deposit struct {
	Amount int `json:"amount"`
}

type withdrawal struct {
	Amount int `json:"amount"`
}

type label string

type tags map[string]string

func testCodec(t *testing.T) *Codec {
	t.Helper()
	reg := NewRegistry()
	if err := Register[deposit](reg, "Deposit"); err != nil {
		t.Fatalf("Register deposit: %v", err)
	}
	if err := Register[withdrawal](reg, "Withdrawal"); err != nil {
		t.Fatalf("Register withdrawal: %v", err)
	}
	if err := Register[label](reg, "Label"); err != nil {
		t.Fatalf("Register label: %v", err)
	}
	if err := Register[tags](reg, "Tags"); err != nil {
		t.Fatalf("Register tags: %v", err)
	}
	return New(reg)
}

func TestCodecRoundTrip(t *testing.T) {
	c := testCodec(t)
	ts := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)
	payloads := []any{deposit{Amount: 5}, "Hello World!", withdrawal{Amount: 6}, true, 1.5, nil, label("x")}

	line, err := c.Encode(ts, payloads)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if line[len(line)-1] != '\n' {
		t.Fatalf("expected newline terminated line, got %q", line)
	}
	if strings.Count(string(line), "\n") != 1 {
		t.Fatalf("expected a single line, got %q", line)
	}
	rec, err := c.Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !rec.Timestamp.Equal(ts) {
		t.Fatalf("timestamp mismatch: got %s want %s", rec.Timestamp, ts)
	}
	if !reflect.DeepEqual(rec.Payloads, payloads) {
		t.Fatalf("payload mismatch: got %#v want %#v", rec.Payloads, payloads)
	}
}

func TestCodecWireFormat(t *testing.T) {
	c := testCodec(t)
	line, err := c.Encode(FromTicks(42), []any{deposit{Amount: 5}, label("x"), "s"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"t":42,"c":[{"$type":"Deposit","amount":5},{"$type":"Label","$value":"x"},"s"]}` + "\n"
	if string(line) != want {
		t.Fatalf("unexpected line:\n got %s\nwant %s", line, want)
	}
}

func TestCodecEmptyPayloadList(t *testing.T) {
	c := testCodec(t)
	line, err := c.Encode(FromTicks(7), nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	rec, err := c.Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rec.Payloads) != 0 || Ticks(rec.Timestamp) != 7 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestCodecPointerPayloadEncodesAsValue(t *testing.T) {
	c := testCodec(t)
	line, err := c.Encode(FromTicks(1), []any{&deposit{Amount: 3}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	rec, err := c.Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got, ok := rec.Payloads[0].(deposit); !ok || got.Amount != 3 {
		t.Fatalf("expected deposit value, got %#v", rec.Payloads[0])
	}
}

func TestCodecUnregisteredTypeFailsEncode(t *testing.T) {
	c := testCodec(t)
	type unknown struct{ A int }
	_, err := c.Encode(FromTicks(1), []any{unknown{A: 1}})
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected ErrUnknownType to be a serialization error, got %v", err)
	}
}

func TestCodecUnknownTagFailsDecode(t *testing.T) {
	c := testCodec(t)
	line := []byte(`{"t":1,"c":[{"$type":"Refund","amount":1}]}` + "\n")
	_, err := c.Decode(line)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestCodecMalformedLines(t *testing.T) {
	c := testCodec(t)
	cases := map[string]string{
		"not json":        "garbage",
		"missing t":       `{"c":[]}`,
		"missing c":       `{"t":1}`,
		"c not array":     `{"t":1,"c":"x"}`,
		"negative t":      `{"t":-5,"c":[]}`,
		"untagged object": `{"t":1,"c":[{"amount":1}]}`,
	}
	for name, line := range cases {
		if _, err := c.Decode([]byte(line)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := c.Decode([]byte(`{"c":[]}`)); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat for missing timestamp, got %v", err)
	}
}

func TestDecodeTimestampIgnoresPayloads(t *testing.T) {
	// The payload list is unparseable for the registry but the timestamp must still be readable.
	line := []byte(`{"t":1234567890123456789,"c":[{"$type":"Nope"}]}`)
	ts, err := DecodeTimestamp(line)
	if err != nil {
		t.Fatalf("DecodeTimestamp: %v", err)
	}
	if Ticks(ts) != 1234567890123456789 {
		t.Fatalf("unexpected ticks %d", Ticks(ts))
	}
	if ts.Location() != time.UTC {
		t.Fatalf("expected UTC, got %s", ts.Location())
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := Register[deposit](reg, "Deposit"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register[withdrawal](reg, "Deposit"); err == nil {
		t.Fatalf("expected duplicate name to fail")
	}
	if err := Register[deposit](reg, "Other"); err == nil {
		t.Fatalf("expected duplicate type to fail")
	}
	if err := Register[deposit](reg, "$bad"); err == nil {
		t.Fatalf("expected reserved name to fail")
	}
	if err := Register[[]int](reg, "Ints"); err == nil {
		t.Fatalf("expected unnamed type to fail")
	}
	if got := reg.Names(); len(got) != 1 || got[0] != "Deposit" {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestIntegerPayloadsDecodeAsFloat(t *testing.T) {
	c := New(nil)
	line, err := c.Encode(FromTicks(1), []any{7})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	rec, err := c.Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rec.Payloads[0] != float64(7) {
		t.Fatalf("expected float64(7), got %#v", rec.Payloads[0])
	}
}

func TestCodecMapPayloadRoundTrip(t *testing.T) {
	c := testCodec(t)
	in := tags{"a": "1", "b": "2"}
	line, err := c.Encode(FromTicks(5), []any{in})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := `{"t":5,"c":[{"$type":"Tags","$value":{"a":"1","b":"2"}}]}` + "\n"; string(line) != want {
		t.Fatalf("wire: got %s want %s", line, want)
	}
	rec, err := c.Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got, ok := rec.Payloads[0].(tags); !ok || !reflect.DeepEqual(got, in) {
		t.Fatalf("round trip: got %#v want %#v", rec.Payloads[0], in)
	}
}
