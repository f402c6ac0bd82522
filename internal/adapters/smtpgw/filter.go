package smtpgw

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/jhillyerd/enmime"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
)

// Filter is an SMTP content filter: the MTA hands every inbound
// message to it, the pipeline decides, and surviving messages are
// relayed to the upstream hop with their artifacts rewritten.
type Filter struct {
	service       *core.ZeroTrustService
	logger        *zap.Logger
	listenAddr    string
	server        *smtp.Server
	upstreamAddr  string
	upstreamPort  int
	relayEnabled  bool
	spoolDir      string
	subjectPrefix string
	maxMessage    int64
}

// NewFilter creates a new SMTP ingest filter.
func NewFilter(
	service *core.ZeroTrustService,
	logger *zap.Logger,
	listenAddr string,
	upstreamAddr string,
	upstreamPort int,
	relayEnabled bool,
	spoolDir string,
	subjectPrefix string,
	maxMessage int64,
) *Filter {
	if subjectPrefix == "" {
		subjectPrefix = "[QUARANTINED] "
	}
	return &Filter{
		service:       service,
		logger:        logger,
		listenAddr:    listenAddr,
		upstreamAddr:  upstreamAddr,
		upstreamPort:  upstreamPort,
		relayEnabled:  relayEnabled,
		spoolDir:      spoolDir,
		subjectPrefix: subjectPrefix,
		maxMessage:    maxMessage,
	}
}

// Start starts the SMTP listener.
func (f *Filter) Start() error {
	f.server = smtp.NewServer(&backend{filter: f})
	f.server.Addr = f.listenAddr
	f.server.Domain = "localhost"
	f.server.ReadTimeout = 30 * time.Second
	f.server.WriteTimeout = 30 * time.Second
	f.server.MaxMessageBytes = f.maxMessage
	f.server.MaxRecipients = 50
	f.server.AllowInsecureAuth = true

	f.logger.Info("SMTP ingest filter starting", zap.String("address", f.listenAddr))

	go func() {
		if err := f.server.ListenAndServe(); err != nil && err != smtp.ErrServerClosed {
			f.logger.Error("SMTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the SMTP listener.
func (f *Filter) Stop() error {
	if f.server != nil {
		return f.server.Close()
	}
	return nil
}

// handleMessage runs one raw message through the pipeline and acts on
// the decision.
func (f *Filter) handleMessage(sender string, recipients []string, raw []byte) error {
	email, err := f.parseMessage(sender, recipients, raw)
	if err != nil {
		f.logger.Error("Failed to parse inbound message", zap.Error(err))
		// Unparseable mail is not a reason to lose it; relay untouched.
		return f.relay(sender, recipients, raw)
	}

	result := f.service.ProcessEmail(context.Background(), email)

	switch result.Action {
	case core.ActionBlock:
		f.logger.Warn("Blocked inbound message",
			zap.String("message_id", email.MessageID),
			zap.String("sender", sender),
			zap.Float64("threat_score", result.ThreatScore))
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "Message rejected by security policy",
		}
	case core.ActionQuarantine:
		raw = f.tagSubject(raw)
	}

	raw = f.rewriteRaw(raw, result)
	raw = f.stampHeaders(raw, result)

	return f.relay(sender, recipients, raw)
}

// parseMessage converts raw RFC 5322 bytes into the pipeline's email
// shape, spooling attachments so the sandbox can detonate them later.
func (f *Filter) parseMessage(sender string, recipients []string, raw []byte) (*core.Email, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid MIME message: %w", err)
	}

	email := &core.Email{
		MessageID: strings.Trim(env.GetHeader("Message-ID"), "<>"),
		From:      sender,
		To:        recipients,
		Subject:   env.GetHeader("Subject"),
		Body:      env.Text,
		HTMLBody:  env.HTML,
		Headers:   make(map[string][]string),
	}
	if email.From == "" {
		email.From = env.GetHeader("From")
	}

	for _, att := range env.Attachments {
		path, err := f.spool(email.MessageID, att.FileName, att.Content)
		if err != nil {
			f.logger.Warn("Failed to spool attachment",
				zap.String("file", att.FileName),
				zap.Error(err))
			continue
		}
		email.Attachments = append(email.Attachments, core.Attachment{
			FileName:    att.FileName,
			ContentType: att.ContentType,
			Size:        int64(len(att.Content)),
			StoragePath: path,
		})
	}

	return email, nil
}

// spool writes attachment content where the sandbox can reach it.
func (f *Filter) spool(messageID string, fileName string, content []byte) (string, error) {
	dir := f.spoolDir
	if dir == "" {
		dir = os.TempDir()
	}
	file, err := os.CreateTemp(dir, sanitizeName(messageID)+"-"+sanitizeName(fileName)+"-*")
	if err != nil {
		return "", err
	}
	defer file.Close()

	if _, err := file.Write(content); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

// rewriteRaw swaps each tracked artifact's original target for its
// indirect reference in the raw message bytes.
func (f *Filter) rewriteRaw(raw []byte, result *core.ZeroTrustResult) []byte {
	analysis, ok := result.AnalysisDetails["gateway"].(*core.GatewayAnalysis)
	if !ok || analysis == nil {
		return raw
	}

	body := string(raw)
	for _, rec := range analysis.Records {
		if rec.Kind != core.KindLink {
			continue
		}
		tracked := trackedTarget(analysis, rec.ID)
		if tracked == "" {
			continue
		}
		body = strings.Replace(body, rec.OriginalTarget, tracked, 1)
	}
	return []byte(body)
}

// trackedTarget finds the rewritten form of one record in the
// gateway's output.
func trackedTarget(analysis *core.GatewayAnalysis, recordID string) string {
	if analysis.RewrittenEmail == nil {
		return ""
	}
	for _, candidate := range core.DiscoverLinks(analysis.RewrittenEmail) {
		if strings.HasSuffix(candidate, "/t/"+recordID) {
			return candidate
		}
	}
	return ""
}

// stampHeaders prepends the decision headers to the raw message.
func (f *Filter) stampHeaders(raw []byte, result *core.ZeroTrustResult) []byte {
	var headers bytes.Buffer
	fmt.Fprintf(&headers, "X-ZeroTrust-Action: %s\r\n", result.Action)
	fmt.Fprintf(&headers, "X-ZeroTrust-Score: %.3f\r\n", result.ThreatScore)
	if len(result.Indicators) > 0 {
		fmt.Fprintf(&headers, "X-ZeroTrust-Indicators: %s\r\n", strings.Join(result.Indicators, ", "))
	}
	return append(headers.Bytes(), raw...)
}

// tagSubject prefixes the Subject header for quarantined mail. Some
// submitters use bare LF line endings, so the separator is picked from
// the message itself.
func (f *Filter) tagSubject(raw []byte) []byte {
	text := string(raw)
	sep, nl := "\r\n\r\n", "\r\n"
	if !strings.Contains(text, "\r\n") {
		sep, nl = "\n\n", "\n"
	}

	lines := strings.SplitN(text, sep, 2)
	headerBlock := lines[0]

	headerLines := strings.Split(headerBlock, nl)
	for i, line := range headerLines {
		if strings.HasPrefix(strings.ToLower(line), "subject:") {
			value := strings.TrimSpace(line[len("subject:"):])
			if !strings.HasPrefix(value, f.subjectPrefix) {
				headerLines[i] = "Subject: " + f.subjectPrefix + value
			}
			break
		}
	}

	rebuilt := strings.Join(headerLines, nl)
	if len(lines) == 2 {
		rebuilt += sep + lines[1]
	}
	return []byte(rebuilt)
}

// relay hands the message to the upstream MTA over SMTP.
func (f *Filter) relay(sender string, recipients []string, raw []byte) error {
	if !f.relayEnabled {
		f.logger.Debug("Relay disabled, accepting message without forwarding")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", f.upstreamAddr, f.upstreamPort)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to upstream MTA: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	accepted := false
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			f.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", rcpt),
				zap.Error(err))
			continue
		}
		accepted = true
	}
	if !accepted {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(raw); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		f.logger.Warn("QUIT command failed", zap.Error(err))
	}
	return nil
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// backend implements the go-smtp Backend interface.
type backend struct {
	filter *Filter
}

// NewSession creates a new SMTP session.
func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{filter: b.filter}, nil
}

// session implements the go-smtp Session interface.
type session struct {
	filter     *Filter
	sender     string
	recipients []string
}

// Reset resets the session state.
func (s *session) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Logout is called when the client disconnects.
func (s *session) Logout() error {
	return nil
}

// AuthPlain is not supported; the filter sits behind the MTA.
func (s *session) AuthPlain(_, _ string) error {
	return smtp.ErrAuthUnsupported
}

// Mail sets the sender address.
func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt adds a recipient.
func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data handles the message payload.
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.filter.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}
	return s.filter.handleMessage(s.sender, s.recipients, raw)
}
