package membership

import (
	"testing"
)

func TestHash_Deterministic(t *testing.T) {
	e1 := &Event{Creator: "a", Seq: 1, Observation: Genesis([]string{"b", "a"})}
	e2 := &Event{Creator: "a", Seq: 1, Observation: Genesis([]string{"a", "b"})}

	h1 := mustHash(t, e1)
	h2 := mustHash(t, e2)
	if h1 != h2 {
		t.Error("genesis member order must not affect the hash")
	}

	e3 := &Event{Creator: "a", Seq: 2, SelfParent: &h1}
	if mustHash(t, e3) == h1 {
		t.Error("different events must hash differently")
	}
}

func TestHash_TextRoundTrip(t *testing.T) {
	h := mustHash(t, &Event{Creator: "a", Seq: 1})

	text, err := h.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(text) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(text))
	}

	var back Hash
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != h {
		t.Error("hash should round-trip through text")
	}

	if err := back.UnmarshalText([]byte("zz")); err == nil {
		t.Error("expected error for invalid hex")
	}
	if err := back.UnmarshalText([]byte("abcd")); err == nil {
		t.Error("expected error for short input")
	}
}

func TestHash_ZeroAndShort(t *testing.T) {
	var zero Hash
	if !zero.IsZero() {
		t.Error("zero hash should report IsZero")
	}

	h := mustHash(t, &Event{Creator: "a", Seq: 1})
	if h.IsZero() {
		t.Error("event hash should not be zero")
	}
	if len(h.Short()) != 8 {
		t.Errorf("Short() should be 8 hex chars, got %q", h.Short())
	}
}

func TestObservation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		obs     *Observation
		wantErr bool
	}{
		{"valid genesis", Genesis([]string{"b", "a"}), false},
		{"empty genesis", &Observation{Kind: ObsGenesis}, true},
		{"genesis with node", &Observation{Kind: ObsGenesis, Members: []string{"a"}, Node: "x"}, true},
		{"unsorted genesis", &Observation{Kind: ObsGenesis, Members: []string{"b", "a"}}, true},
		{"valid add", Add("x"), false},
		{"empty add", &Observation{Kind: ObsAdd}, true},
		{"add with members", &Observation{Kind: ObsAdd, Node: "x", Members: []string{"a"}}, true},
		{"valid remove", Remove("x"), false},
		{"unknown kind", &Observation{Kind: "frobnicate", Node: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.obs.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenesis_DedupsAndSorts(t *testing.T) {
	obs := Genesis([]string{"c", "a", "c", "", "b"})
	want := []string{"a", "b", "c"}
	if len(obs.Members) != len(want) {
		t.Fatalf("Members = %v, want %v", obs.Members, want)
	}
	for i := range want {
		if obs.Members[i] != want[i] {
			t.Fatalf("Members = %v, want %v", obs.Members, want)
		}
	}
}

func TestEvent_Validate(t *testing.T) {
	h := mustHash(t, &Event{Creator: "x", Seq: 1})

	tests := []struct {
		name    string
		ev      *Event
		wantErr bool
	}{
		{"valid first", &Event{Creator: "a", Seq: 1}, false},
		{"valid chained", &Event{Creator: "a", Seq: 2, SelfParent: &h}, false},
		{"no creator", &Event{Seq: 1}, true},
		{"zero seq", &Event{Creator: "a"}, true},
		{"first with self-parent", &Event{Creator: "a", Seq: 1, SelfParent: &h}, true},
		{"chained without self-parent", &Event{Creator: "a", Seq: 2}, true},
		{"genesis beyond first", &Event{Creator: "a", Seq: 2, SelfParent: &h, Observation: Genesis([]string{"a"})}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
