package views

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

func TestSession_DownloadLinks(t *testing.T) {
	tests := []struct {
		name    string
		result  string
		want    string
		notWant string
	}{
		{"absolute http", "https://files.example/downloads/out.csv", `href="https://files.example/downloads/out.csv"`, ""},
		{"relative", "/downloads/out.csv", `href="/downloads/out.csv"`, ""},
		{"script scheme", "javascript:alert(1)", `href="about:invalid`, "javascript:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := wizard.View{
				ID:            "s-1",
				Flow:          wizard.FlowDedup,
				State:         wizard.StateDownloadable,
				Result:        tt.result,
				InvalidResult: tt.result,
			}

			var buf bytes.Buffer
			if err := Session(v, nil, nil).Render(context.Background(), &buf); err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			out := buf.String()

			if got := strings.Count(out, tt.want); got != 2 {
				t.Errorf("links with %s = %d, want 2 in %s", tt.want, got, out)
			}
			if tt.notWant != "" && strings.Contains(out, tt.notWant) {
				t.Errorf("output contains %q: %s", tt.notWant, out)
			}
		})
	}
}
