package policy

import "testing"

func TestMemoryBudget_Clamp(t *testing.T) {
	mb := NewMemoryBudget(nil)

	tests := []struct {
		name      string
		requested int64
		want      int64
	}{
		{"within range", 10 << 20, 10 << 20},
		{"below minimum", 512 * 1024, MinMemoryBudget},
		{"above maximum", 200 << 20, MaxMemoryBudget},
		{"exactly minimum", MinMemoryBudget, MinMemoryBudget},
		{"exactly maximum", MaxMemoryBudget, MaxMemoryBudget},
		{"zero", 0, MinMemoryBudget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mb.Clamp(tt.requested)
			if got != tt.want {
				t.Errorf("Clamp(%d) = %d, want %d", tt.requested, got, tt.want)
			}
		})
	}
}
