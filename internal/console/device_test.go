// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package console

import (
	"bufio"
	"net"
	"strings"
	"testing"
)

// scriptDevice reads lines from the session and answers with canned
// output, emulating a device CLI on the far end of the pipe.
func scriptDevice(t *testing.T, device net.Conn, steps []struct{ expect, reply string }) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		rd := bufio.NewReader(device)
		for _, step := range steps {
			if step.expect != "" {
				line, err := rd.ReadString('\n')
				if err != nil {
					done <- err
					return
				}
				if !strings.Contains(line, step.expect) {
					t.Errorf("device got %q, expected it to contain %q", line, step.expect)
				}
			}
			if step.reply != "" {
				if _, err := device.Write([]byte(step.reply)); err != nil {
					done <- err
					return
				}
			}
		}
		done <- nil
	}()
	return done
}

func TestLoginWithPassword(t *testing.T) {
	s, device := testSession(t, false)

	done := scriptDevice(t, device, []struct{ expect, reply string }{
		{"\n", "lab (ttyu0)\r\n\r\nlab login: "}, // wake-up newline
		{"automation", "Password: "},
		{"secret", "\r\n--- JUNOS 23.2R1 ---\r\nautomation@lab> "},
	})

	if err := s.Login("automation", "secret"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("device script failed: %v", err)
	}
}

func TestLoginRejected(t *testing.T) {
	s, device := testSession(t, false)

	scriptDevice(t, device, []struct{ expect, reply string }{
		{"\n", "lab login: "},
		{"automation", "Password: "},
		{"wrong", "\r\nLogin incorrect\r\nlab login: "},
	})

	if err := s.Login("automation", "wrong"); err == nil {
		t.Fatal("expected login to be rejected")
	}
}

func TestFirstErrorLine(t *testing.T) {
	out := "load complete\r\nerror: syntax error: bogus-statement\r\nuser@lab# "
	if got := firstErrorLine(out); !strings.HasPrefix(got, "error: syntax error") {
		t.Errorf("firstErrorLine = %q", got)
	}
}
