package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestIsChallenge(t *testing.T) {
	t.Parallel()

	postJSON := `[{"data":{"children":[{"data":{"title":"t","author":"a","selftext":"please sign in"}}]}}]`

	tests := []struct {
		name  string
		probe pageProbe
		want  bool
	}{
		{name: "captcha element", probe: pageProbe{SelectorHit: true, Pre: postJSON}, want: true},
		{name: "plain json page", probe: pageProbe{Pre: postJSON, Body: postJSON}, want: false},
		{name: "json mentioning login is exempt", probe: pageProbe{Pre: postJSON, Body: "how do I login " + postJSON}, want: false},
		{name: "login wall", probe: pageProbe{Body: "Log in to continue. Sign in with Google"}, want: true},
		{name: "robot check", probe: pageProbe{Body: "Robot check required"}, want: true},
		{name: "verification keyword", probe: pageProbe{Body: "Complete VERIFICATION"}, want: true},
		{name: "empty page", probe: pageProbe{}, want: false},
		{name: "pre without post fields", probe: pageProbe{Pre: `{"error":403}`, Body: "captcha"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := isChallenge(tt.probe); got != tt.want {
				t.Errorf("isChallenge() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPromptPauser_Pause(t *testing.T) {
	t.Parallel()

	t.Run("continues on c", func(t *testing.T) {
		t.Parallel()

		var out bytes.Buffer
		p := NewPromptPauser(strings.NewReader("x\n C \nc\n"), &out)
		if err := p.Pause(context.Background(), "https://www.reddit.com/r/golang/comments/a/b.json"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out.String(), "r/golang/comments/a/b.json") {
			t.Errorf("expected the url in the prompt: %q", out.String())
		}
		if !strings.Contains(out.String(), "Type 'c' to continue") {
			t.Errorf("expected a re-prompt after wrong input: %q", out.String())
		}
		if err := p.Pause(context.Background(), "second"); err != nil {
			t.Fatalf("expected the next line to serve the second pause: %v", err)
		}
	})

	t.Run("closed input", func(t *testing.T) {
		t.Parallel()

		p := NewPromptPauser(strings.NewReader("nope\n"), io.Discard)
		if err := p.Pause(context.Background(), "u"); !errors.Is(err, ErrCaptcha) {
			t.Errorf("expected ErrCaptcha, got %v", err)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		t.Parallel()

		r, w := io.Pipe()
		t.Cleanup(func() { _ = w.Close() })

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		p := NewPromptPauser(r, io.Discard)
		if err := p.Pause(ctx, "u"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestParseCookieString(t *testing.T) {
	t.Parallel()

	got := parseCookieString(" reddit_session=abc; token_v2=x=y ;bad; =novalue;")
	want := [][2]string{{"reddit_session", "abc"}, {"token_v2", "x=y"}}
	if len(got) != len(want) {
		t.Fatalf("expected %d cookies, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cookie %d = %v, want %v", i, got[i], want[i])
		}
	}
}
