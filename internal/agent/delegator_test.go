package agent

import "testing"

func TestTryExtractSessionID(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "explicit session_id field",
			text: `{"session_id": "550e8400-e29b-41d4-a716-446655440000", "status": "ok"}`,
			want: "550e8400-e29b-41d4-a716-446655440000",
		},
		{
			name: "resume flag hint",
			text: "To continue this conversation, run: resume with --resume 123e4567-e89b-12d3-a456-426614174000",
			want: "123e4567-e89b-12d3-a456-426614174000",
		},
		{
			name: "share url",
			text: "Shared at: https://example.com/s/00000000-0000-0000-0000-000000000001",
			want: "00000000-0000-0000-0000-000000000001",
		},
		{
			name: "bare uuid fallback",
			text: "conversation id 11111111-2222-3333-4444-555555555555 recorded",
			want: "11111111-2222-3333-4444-555555555555",
		},
		{
			name: "no match",
			text: "no identifiers here",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TryExtractSessionID(tt.text); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
