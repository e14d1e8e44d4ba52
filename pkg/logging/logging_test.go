package logging

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestLineFormat(t *testing.T) {
	tests := map[string]struct {
		log  func(Logger)
		want string
	}{
		"info": {
			log:  func(l Logger) { l.Info("Processing package: lib") },
			want: "-- INFO:Processing package: lib\n",
		},
		"warn": {
			log:  func(l Logger) { l.Warn("Submodule update failed") },
			want: "-- WARNING:Submodule update failed\n",
		},
		"error": {
			log:  func(l Logger) { l.Error("Clone failed") },
			want: "-- ERROR:Clone failed\n",
		},
		"success": {
			log:  func(l Logger) { l.Success("/cache/lib/lib") },
			want: "-- SUCCESS:/cache/lib/lib\n",
		},
		"status": {
			log:  func(l Logger) { l.Status("REFETCH", "lib") },
			want: "-- REFETCH:lib\n",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tc.log(New(buf))
			if got := buf.String(); got != tc.want {
				t.Errorf("output = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestConcurrentWritersDoNotInterleave(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Info(fmt.Sprintf("writer %d line %d", n, j))
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 8*50 {
		t.Fatalf("line count = %d, want %d", len(lines), 8*50)
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "-- INFO:writer ") {
			t.Fatalf("malformed line %q", line)
		}
	}
}
