package protocol

import "testing"

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantType  MessageType
		wantQuery string
		wantErr   bool
	}{
		{"bare query", `{"query":"Next Artemis launch?"}`, MsgQuerySubmit, "Next Artemis launch?", false},
		{"envelope", `{"type":"query.submit","payload":{"query":"Mars sample return"}}`, MsgQuerySubmit, "Mars sample return", false},
		{"envelope with top-level query", `{"type":"query.submit","query":"ISS deorbit"}`, MsgQuerySubmit, "ISS deorbit", false},
		{"pong", `{"type":"client.pong"}`, MsgPong, "", false},
		{"invalid json", `{"query":`, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, q, err := ParseClientMessage([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if typ != tt.wantType {
				t.Errorf("type = %q, want %q", typ, tt.wantType)
			}
			if tt.wantType == MsgQuerySubmit && q.Query != tt.wantQuery {
				t.Errorf("query = %q, want %q", q.Query, tt.wantQuery)
			}
		})
	}
}

func TestEnvelopeDecode(t *testing.T) {
	env, err := NewEnvelope(MsgQueryResult, QueryResultPayload{Result: "Go for launch", InputTokens: 12})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	var p QueryResultPayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Result != "Go for launch" || p.InputTokens != 12 {
		t.Errorf("payload = %+v", p)
	}
}
