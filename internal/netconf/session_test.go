// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package netconf

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/toeirei/netdeploy/internal/model"
)

func newPipedSession(t *testing.T, timeout time.Duration) (*Session, *io.PipeWriter) {
	t.Helper()
	pr, pw := io.Pipe()
	s := &Session{
		timeout: timeout,
		msgs:    make(chan frame, 1),
		quit:    make(chan struct{}),
	}
	go s.readLoop(pr)
	t.Cleanup(func() {
		s.Close()
		pw.Close()
	})
	return s, pw
}

func TestReadMessageSplitsFrames(t *testing.T) {
	s, pw := newPipedSession(t, 2*time.Second)

	go func() {
		io.WriteString(pw, "<rpc-reply>first</rpc-reply>\n]]>]]>\n<rpc-reply>second</rpc-reply>\n]]>]]>\n")
	}()

	first, err := s.readMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(first, "first") {
		t.Errorf("first message = %q", first)
	}

	second, err := s.readMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(second, "second") {
		t.Errorf("second message = %q", second)
	}
	if strings.Contains(second, "first") {
		t.Errorf("frames not split cleanly: %q", second)
	}
}

func TestReplyTimeoutPoisonsSession(t *testing.T) {
	s, pw := newPipedSession(t, 50*time.Millisecond)

	if _, err := s.readMessage(); err == nil {
		t.Fatal("expected a timeout error")
	}

	// No further rpc may run; a late reply would belong to the request
	// that timed out.
	if err := s.Unlock(); err == nil {
		t.Fatal("expected rpc on a timed-out session to fail")
	}

	// A reply arriving after the timeout must not resurrect the session.
	go io.WriteString(pw, "<rpc-reply><ok/></rpc-reply>]]>]]>")
	time.Sleep(20 * time.Millisecond)
	if err := s.Lock(); err == nil {
		t.Fatal("expected rpc after a late reply to fail")
	}
}

func TestActionForMode(t *testing.T) {
	tests := []struct {
		name     string
		mode     model.LoadMode
		format   model.ConfigFormat
		expected string
	}{
		{"merge text", model.ModeMerge, model.FormatText, "merge"},
		{"overwrite text", model.ModeOverwrite, model.FormatText, "override"},
		{"replace xml", model.ModeReplace, model.FormatXML, "replace"},
		{"set always wins", model.ModeMerge, model.FormatSet, "set"},
		{"set with replace", model.ModeReplace, model.FormatSet, "set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ActionForMode(tt.mode, tt.format); got != tt.expected {
				t.Errorf("ActionForMode(%q, %q) = %q, want %q", tt.mode, tt.format, got, tt.expected)
			}
		})
	}
}

func TestBuildLoadRPC(t *testing.T) {
	t.Run("inline set content", func(t *testing.T) {
		got := buildLoadRPC(LoadRequest{
			Action:  "set",
			Format:  model.FormatSet,
			Content: "set system host-name lab",
		})
		if !strings.Contains(got, `action="set"`) {
			t.Errorf("missing action attribute: %s", got)
		}
		if !strings.Contains(got, "<configuration-set>set system host-name lab</configuration-set>") {
			t.Errorf("missing payload: %s", got)
		}
	})

	t.Run("text content is escaped", func(t *testing.T) {
		got := buildLoadRPC(LoadRequest{
			Action:  "merge",
			Format:  model.FormatText,
			Content: `description "a & b <c>";`,
		})
		if strings.Contains(got, "a & b <c>") {
			t.Errorf("markup characters not escaped: %s", got)
		}
		if !strings.Contains(got, "a &amp; b &lt;c&gt;") {
			t.Errorf("escaped payload missing: %s", got)
		}
	})

	t.Run("newlines survive escaping", func(t *testing.T) {
		got := buildLoadRPC(LoadRequest{
			Action:  "merge",
			Format:  model.FormatText,
			Content: "system {\n  host-name lab;\n}\n",
		})
		if !strings.Contains(got, "system {\n  host-name lab;\n}") {
			t.Errorf("payload newlines mangled: %s", got)
		}
	})

	t.Run("url load has no body", func(t *testing.T) {
		got := buildLoadRPC(LoadRequest{
			Action: "override",
			Format: model.FormatText,
			URL:    "/var/tmp/netdeploy.123.conf",
		})
		if !strings.Contains(got, `url="/var/tmp/netdeploy.123.conf"/>`) {
			t.Errorf("missing url attribute: %s", got)
		}
		if strings.Contains(got, "configuration-text") {
			t.Errorf("unexpected inline body: %s", got)
		}
	})

	t.Run("xml inlined raw", func(t *testing.T) {
		got := buildLoadRPC(LoadRequest{
			Action:  "merge",
			Format:  model.FormatXML,
			Content: "<configuration><system/></configuration>",
		})
		if !strings.Contains(got, "<configuration><system/></configuration>") {
			t.Errorf("xml payload must not be escaped: %s", got)
		}
	})
}

func TestBuildCommitRPC(t *testing.T) {
	tests := []struct {
		name     string
		req      CommitRequest
		contains []string
		excludes []string
	}{
		{
			"plain commit",
			CommitRequest{},
			[]string{"<commit-configuration></commit-configuration>"},
			[]string{"<check/>", "<confirmed/>", "<log>"},
		},
		{
			"check only",
			CommitRequest{Check: true},
			[]string{"<check/>"},
			[]string{"<confirmed/>"},
		},
		{
			"comment and confirm",
			CommitRequest{Comment: "window 42", ConfirmMinutes: 10},
			[]string{"<log>window 42</log>", "<confirmed/><confirm-timeout>10</confirm-timeout>"},
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildCommitRPC(tt.req)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("missing %q in %s", want, got)
				}
			}
			for _, not := range tt.excludes {
				if strings.Contains(got, not) {
					t.Errorf("unexpected %q in %s", not, got)
				}
			}
		})
	}
}

func TestCheckReply(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr bool
	}{
		{
			"clean reply",
			`<rpc-reply message-id="1"><ok/></rpc-reply>`,
			false,
		},
		{
			"error severity",
			`<rpc-reply><rpc-error><error-severity>error</error-severity><error-message>syntax error</error-message></rpc-error></rpc-reply>`,
			true,
		},
		{
			"promoted warning",
			`<rpc-reply><rpc-error><error-severity>warning</error-severity><error-message>mgd: unsupported platform</error-message></rpc-error></rpc-reply>`,
			true,
		},
		{
			"ignorable warning",
			`<rpc-reply><rpc-error><error-severity>warning</error-severity><error-message>statement not found</error-message></rpc-error></rpc-reply>`,
			false,
		},
		{
			"namespaced reply",
			`<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" xmlns:junos="http://xml.juniper.net/junos"><ok/></rpc-reply>`,
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkReply(tt.reply)
			if tt.wantErr && err == nil {
				t.Error("expected an error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseCompareReply(t *testing.T) {
	t.Run("diff present", func(t *testing.T) {
		reply := `<rpc-reply message-id="3">
<configuration-information>
<configuration-output>
[edit system]
+  host-name lab;
</configuration-output>
</configuration-information>
</rpc-reply>`
		got, err := parseCompareReply(reply)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(got, "+  host-name lab;") {
			t.Errorf("diff content lost: %q", got)
		}
	})

	t.Run("empty diff", func(t *testing.T) {
		reply := `<rpc-reply message-id="3"><configuration-information><configuration-output>
</configuration-output></configuration-information></rpc-reply>`
		got, err := parseCompareReply(reply)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "" {
			t.Errorf("expected empty diff, got %q", got)
		}
	})

	t.Run("no output element", func(t *testing.T) {
		got, err := parseCompareReply(`<rpc-reply message-id="3"><ok/></rpc-reply>`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "" {
			t.Errorf("expected empty diff, got %q", got)
		}
	})
}

func TestStripReplyTag(t *testing.T) {
	in := `<rpc-reply xmlns="urn:x" message-id="9"><ok/></rpc-reply>`
	if got := stripReplyTag(in); got != "<ok/>" {
		t.Errorf("stripReplyTag = %q", got)
	}
	// Content without the wrapper passes through untouched.
	if got := stripReplyTag("<ok/>"); got != "<ok/>" {
		t.Errorf("stripReplyTag without wrapper = %q", got)
	}
}
