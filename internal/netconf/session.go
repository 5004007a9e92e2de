// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

package netconf

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/toeirei/netdeploy/internal/logging"
	"github.com/toeirei/netdeploy/internal/model"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultTimeout is the session timeout used when the spec leaves it at 0.
const DefaultTimeout = 30 * time.Second

// delimiter terminates every message in the base netconf framing.
const delimiter = "]]>]]>"

const clientHello = `<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><capabilities><capability>urn:ietf:params:netconf:base:1.0</capability></capabilities></hello>`

// ignorableWarnings are load/commit warnings the device emits for harmless
// conditions. Anything else with warning severity gets promoted to an
// error.
var ignorableWarnings = []string{
	"statement not found",
	"uncommitted changes will be discarded",
	"discard complete",
}

// Session is a Driver over the SSH netconf subsystem.
type Session struct {
	client  *ssh.Client
	sess    *ssh.Session
	stdin   io.WriteCloser
	timeout time.Duration
	msgID   int

	// msgs carries framed messages from the single reader goroutine that
	// owns the stdout stream for the session's whole lifetime.
	msgs      chan frame
	quit      chan struct{}
	closeOnce sync.Once

	// dead marks a session whose reply stream can no longer be trusted,
	// e.g. after a reply timeout left a response in flight. Every further
	// rpc fails fast.
	dead bool
}

// frame is one delimiter-framed message, or the read error that ended the
// stream.
type frame struct {
	body string
	err  error
}

// DialOptions configure a new management session.
type DialOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	// Timeout bounds the whole session: the dial, the hello exchange and
	// each individual RPC. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Dial opens an authenticated netconf session. Password authentication is
// tried first when a password is given; an SSH agent is used as fallback,
// mirroring the auth chain used for interactive logins.
func Dial(opts DialOptions) (*Session, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	port := opts.Port
	if port == 0 {
		port = 830
	}
	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", port))

	auth := []ssh.AuthMethod{}
	if opts.Password != "" {
		auth = append(auth, ssh.Password(opts.Password))
	}
	if agentClient := getSSHAgent(); agentClient != nil {
		auth = append(auth, ssh.PublicKeysCallback(agentClient.Signers))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no authentication method available (no password given and no ssh agent found)")
	}

	config := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback(),
		Timeout:         timeout,
	}

	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open ssh channel: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := sess.RequestSubsystem("netconf"); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("device did not accept the netconf subsystem: %w", err)
	}

	s := &Session{
		client:  client,
		sess:    sess,
		stdin:   stdin,
		timeout: timeout,
		msgs:    make(chan frame, 1),
		quit:    make(chan struct{}),
	}
	go s.readLoop(stdout)

	// Hello exchange: the server speaks first, then we announce base 1.0.
	if _, err := s.readMessage(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to read server hello: %w", err)
	}
	if err := s.writeMessage(clientHello); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to send client hello: %w", err)
	}

	return s, nil
}

// hostKeyCallback verifies against the user's known_hosts file when one
// exists. Devices reached for bootstrap frequently have no recorded key
// yet; in that case verification is skipped with a warning.
func hostKeyCallback() ssh.HostKeyCallback {
	home, err := os.UserHomeDir()
	if err == nil {
		path := filepath.Join(home, ".ssh", "known_hosts")
		if _, statErr := os.Stat(path); statErr == nil {
			if cb, khErr := knownhosts.New(path); khErr == nil {
				return cb
			}
		}
	}
	logging.Warnf("no usable known_hosts file, skipping host key verification")
	return ssh.InsecureIgnoreHostKey()
}

// Lock takes the exclusive lock on the candidate datastore.
func (s *Session) Lock() error {
	_, err := s.rpc(`<lock><target><candidate/></target></lock>`)
	if err != nil {
		return fmt.Errorf("failed to lock candidate configuration: %w", err)
	}
	return nil
}

// Unlock releases the candidate lock.
func (s *Session) Unlock() error {
	_, err := s.rpc(`<unlock><target><candidate/></target></unlock>`)
	if err != nil {
		return fmt.Errorf("failed to unlock candidate configuration: %w", err)
	}
	return nil
}

// LoadConfig stages configuration into the candidate datastore.
func (s *Session) LoadConfig(req LoadRequest) error {
	if _, err := s.rpc(buildLoadRPC(req)); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	return nil
}

// buildLoadRPC renders the load-configuration request body.
func buildLoadRPC(req LoadRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<load-configuration action=%q format=%q`, req.Action, string(req.Format))
	if req.URL != "" {
		fmt.Fprintf(&b, ` url=%q/>`, req.URL)
		return b.String()
	}
	b.WriteString(">")
	switch req.Format {
	case model.FormatXML:
		// The payload is already markup; inline it as-is.
		b.WriteString(req.Content)
	case model.FormatSet:
		b.WriteString("<configuration-set>")
		writeEscaped(&b, req.Content)
		b.WriteString("</configuration-set>")
	default:
		b.WriteString("<configuration-text>")
		writeEscaped(&b, req.Content)
		b.WriteString("</configuration-text>")
	}
	b.WriteString("</load-configuration>")
	return b.String()
}

// Compare returns the diff between the candidate and the running
// configuration, comparing against rollback 0.
func (s *Session) Compare() (string, error) {
	reply, err := s.rpc(`<get-configuration compare="rollback" rollback="0" format="text"/>`)
	if err != nil {
		return "", fmt.Errorf("failed to compute configuration diff: %w", err)
	}
	return parseCompareReply(reply)
}

// parseCompareReply extracts the diff text from a compare reply. An absent
// or blank configuration-output element means the candidate matches the
// running configuration.
func parseCompareReply(reply string) (string, error) {
	var parsed struct {
		Output string `xml:"configuration-information>configuration-output"`
	}
	wrapped := "<rpc-reply>" + stripReplyTag(reply) + "</rpc-reply>"
	if err := xml.Unmarshal([]byte(wrapped), &parsed); err != nil {
		return "", fmt.Errorf("failed to parse diff reply: %w", err)
	}
	return strings.TrimSpace(parsed.Output), nil
}

// Validate runs a commit check against the candidate configuration.
func (s *Session) Validate() error {
	if _, err := s.rpc(`<commit-configuration><check/></commit-configuration>`); err != nil {
		return fmt.Errorf("commit check failed: %w", err)
	}
	return nil
}

// Commit applies the candidate to the running configuration.
func (s *Session) Commit(req CommitRequest) error {
	if _, err := s.rpc(buildCommitRPC(req)); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// buildCommitRPC renders the commit-configuration request body.
func buildCommitRPC(req CommitRequest) string {
	var b strings.Builder
	b.WriteString("<commit-configuration>")
	if req.Check {
		b.WriteString("<check/>")
	}
	if req.Comment != "" {
		b.WriteString("<log>")
		writeEscaped(&b, req.Comment)
		b.WriteString("</log>")
	}
	if req.ConfirmMinutes > 0 {
		fmt.Fprintf(&b, "<confirmed/><confirm-timeout>%d</confirm-timeout>", req.ConfirmMinutes)
	}
	b.WriteString("</commit-configuration>")
	return b.String()
}

// Discard drops uncommitted candidate changes.
func (s *Session) Discard() error {
	if _, err := s.rpc(`<discard-changes/>`); err != nil {
		return fmt.Errorf("failed to discard candidate changes: %w", err)
	}
	return nil
}

// Close ends the session. The close-session RPC is best effort; the
// underlying channel and connection are always torn down.
func (s *Session) Close() error {
	if s.quit != nil {
		s.closeOnce.Do(func() { close(s.quit) })
	}
	if s.stdin != nil {
		if !s.dead {
			_, _ = fmt.Fprintf(s.stdin, "<rpc><close-session/></rpc>%s", delimiter)
		}
		_ = s.stdin.Close()
	}
	if s.sess != nil {
		_ = s.sess.Close()
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// rpc sends one framed RPC and returns the raw reply body after checking it
// for errors and promotable warnings.
func (s *Session) rpc(body string) (string, error) {
	if s.dead {
		return "", fmt.Errorf("management session is no longer usable")
	}
	s.msgID++
	msg := fmt.Sprintf(`<rpc message-id="%d">%s</rpc>`, s.msgID, body)
	if err := s.writeMessage(msg); err != nil {
		return "", err
	}
	reply, err := s.readMessage()
	if err != nil {
		return "", err
	}
	if err := checkReply(reply); err != nil {
		return "", err
	}
	return reply, nil
}

func (s *Session) writeMessage(msg string) error {
	if _, err := io.WriteString(s.stdin, msg); err != nil {
		return fmt.Errorf("failed to write rpc: %w", err)
	}
	if _, err := io.WriteString(s.stdin, "\n"+delimiter+"\n"); err != nil {
		return fmt.Errorf("failed to write rpc framing: %w", err)
	}
	return nil
}

// readLoop is the session's only stdout reader. It splits the stream on the
// message delimiter and hands complete messages to readMessage; leftover
// bytes after a delimiter stay buffered for the next message.
func (s *Session) readLoop(rd io.Reader) {
	defer close(s.msgs)
	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		if idx := bytes.Index(buf.Bytes(), []byte(delimiter)); idx >= 0 {
			body := string(buf.Bytes()[:idx])
			rest := append([]byte(nil), buf.Bytes()[idx+len(delimiter):]...)
			buf.Reset()
			buf.Write(rest)
			select {
			case s.msgs <- frame{body: body}:
			case <-s.quit:
				return
			}
			continue
		}
		n, err := rd.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			select {
			case s.msgs <- frame{err: fmt.Errorf("session closed while reading reply: %w", err)}:
			case <-s.quit:
			}
			return
		}
	}
}

// readMessage waits for the next framed message, bounded by the session
// timeout. A timeout poisons the session: the in-flight reply could arrive
// at any later point and would be mistaken for the answer to a different
// request, so no further rpc is allowed.
func (s *Session) readMessage() (string, error) {
	if s.dead {
		return "", fmt.Errorf("management session is no longer usable")
	}
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case f, ok := <-s.msgs:
		if !ok {
			s.dead = true
			return "", fmt.Errorf("management session closed")
		}
		if f.err != nil {
			s.dead = true
			return "", f.err
		}
		return f.body, nil
	case <-timer.C:
		s.dead = true
		return "", fmt.Errorf("timed out after %s waiting for rpc reply", s.timeout)
	}
}

// rpcError is one error or warning element in an rpc-reply.
type rpcError struct {
	Severity string `xml:"error-severity"`
	Message  string `xml:"error-message"`
	Path     string `xml:"error-path"`
}

func (e rpcError) String() string {
	msg := strings.TrimSpace(e.Message)
	if p := strings.TrimSpace(e.Path); p != "" {
		return fmt.Sprintf("%s (%s)", msg, p)
	}
	return msg
}

// checkReply scans a reply for rpc-error elements. Error severity is always
// fatal; warnings are promoted to errors unless they match the ignorable
// list.
func checkReply(reply string) error {
	var parsed struct {
		Errors []rpcError `xml:"rpc-error"`
	}
	wrapped := "<rpc-reply>" + stripReplyTag(reply) + "</rpc-reply>"
	if err := xml.Unmarshal([]byte(wrapped), &parsed); err != nil {
		return fmt.Errorf("failed to parse rpc reply: %w", err)
	}

	for _, e := range parsed.Errors {
		if strings.EqualFold(strings.TrimSpace(e.Severity), "warning") {
			if isIgnorableWarning(e.Message) {
				logging.Debugf("ignoring device warning: %s", e)
				continue
			}
			return fmt.Errorf("device warning treated as error: %s", e)
		}
		return fmt.Errorf("device reported error: %s", e)
	}
	return nil
}

// stripReplyTag removes the outer rpc-reply element so the reply can be
// rewrapped without its namespace declarations confusing the decoder.
func stripReplyTag(reply string) string {
	start := strings.Index(reply, "<rpc-reply")
	if start < 0 {
		return reply
	}
	open := strings.Index(reply[start:], ">")
	if open < 0 {
		return reply
	}
	body := reply[start+open+1:]
	if end := strings.LastIndex(body, "</rpc-reply>"); end >= 0 {
		body = body[:end]
	}
	return body
}

func isIgnorableWarning(msg string) bool {
	m := strings.ToLower(msg)
	for _, w := range ignorableWarnings {
		if strings.Contains(m, w) {
			return true
		}
	}
	return false
}

// payloadEscaper escapes only the markup-significant characters. Unlike
// xml.EscapeText it leaves newlines and tabs alone, which keeps staged
// text payloads readable in device logs.
var payloadEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func writeEscaped(b *strings.Builder, s string) {
	_, _ = payloadEscaper.WriteString(b, s)
}
