package smtpgw

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
)

func testFilter() *Filter {
	return NewFilter(nil, zap.NewNop(), ":0", "127.0.0.1", 25, false, "", "", 10<<20)
}

func TestTagSubjectPrefixesQuarantinedMail(t *testing.T) {
	f := testFilter()
	raw := []byte("From: a@example.com\r\nSubject: Invoice attached\r\n\r\nBody text")

	tagged := string(f.tagSubject(raw))

	assert.Contains(t, tagged, "Subject: [QUARANTINED] Invoice attached")
	assert.True(t, strings.HasSuffix(tagged, "Body text"))
}

func TestTagSubjectHandlesBareLFMessages(t *testing.T) {
	f := testFilter()
	raw := []byte("From: a@example.com\nSubject: Invoice attached\n\nBody text")

	tagged := string(f.tagSubject(raw))

	assert.Contains(t, tagged, "Subject: [QUARANTINED] Invoice attached")
	assert.True(t, strings.HasSuffix(tagged, "Body text"))
}

func TestTagSubjectIsIdempotent(t *testing.T) {
	f := testFilter()
	raw := []byte("Subject: [QUARANTINED] Invoice\r\n\r\nBody")

	tagged := string(f.tagSubject(raw))

	assert.Equal(t, 1, strings.Count(tagged, "[QUARANTINED]"))
}

func TestTagSubjectLeavesHeadersWithoutSubjectAlone(t *testing.T) {
	f := testFilter()
	raw := "From: a@example.com\r\n\r\nBody"

	assert.Equal(t, raw, string(f.tagSubject([]byte(raw))))
}

func TestStampHeadersPrependsDecision(t *testing.T) {
	f := testFilter()
	result := &core.ZeroTrustResult{
		Action:      core.ActionQuarantine,
		ThreatScore: 0.651,
		Indicators:  []string{"suspicious_content", "external_sender"},
	}

	stamped := string(f.stampHeaders([]byte("From: a@example.com\r\n\r\nBody"), result))

	assert.True(t, strings.HasPrefix(stamped, "X-ZeroTrust-Action: quarantine\r\n"))
	assert.Contains(t, stamped, "X-ZeroTrust-Score: 0.651\r\n")
	assert.Contains(t, stamped, "X-ZeroTrust-Indicators: suspicious_content, external_sender\r\n")
}

func TestStampHeadersOmitsEmptyIndicators(t *testing.T) {
	f := testFilter()
	result := &core.ZeroTrustResult{Action: core.ActionAllow, ThreatScore: 0}

	stamped := string(f.stampHeaders([]byte("Body"), result))

	assert.NotContains(t, stamped, "X-ZeroTrust-Indicators")
}

func TestRewriteRawSwapsTrackedLinks(t *testing.T) {
	f := testFilter()
	original := "https://evil.test/login"
	raw := []byte("Subject: hi\r\n\r\nClick " + original + " now")

	analysis := &core.GatewayAnalysis{
		RewrittenEmail: &core.Email{
			Body: "Click https://gw.internal.test/t/abc123 now",
		},
		Records: []*core.TrackingRecord{
			{ID: "abc123", Kind: core.KindLink, OriginalTarget: original},
		},
	}
	result := &core.ZeroTrustResult{
		AnalysisDetails: map[string]interface{}{"gateway": analysis},
	}

	rewritten := string(f.rewriteRaw(raw, result))

	assert.NotContains(t, rewritten, original)
	assert.Contains(t, rewritten, "https://gw.internal.test/t/abc123")
}

func TestRewriteRawWithoutGatewayAnalysisIsNoop(t *testing.T) {
	f := testFilter()
	raw := []byte("Body with https://example.test/page")

	result := &core.ZeroTrustResult{AnalysisDetails: map[string]interface{}{}}

	assert.Equal(t, string(raw), string(f.rewriteRaw(raw, result)))
}

func TestParseMessageExtractsFieldsAndSpoolsAttachments(t *testing.T) {
	f := testFilter()
	f.spoolDir = t.TempDir()

	raw := strings.Join([]string{
		"Message-ID: <msg-1@example.com>",
		"From: sender@example.com",
		"Subject: Report",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="BOUNDARY"`,
		"",
		"--BOUNDARY",
		"Content-Type: text/plain",
		"",
		"See attachment.",
		"--BOUNDARY",
		`Content-Type: application/octet-stream; name="report.bin"`,
		`Content-Disposition: attachment; filename="report.bin"`,
		"",
		"binarypayload",
		"--BOUNDARY--",
		"",
	}, "\r\n")

	email, err := f.parseMessage("envelope@example.com", []string{"rcpt@corp.test"}, []byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "msg-1@example.com", email.MessageID)
	assert.Equal(t, "envelope@example.com", email.From)
	assert.Equal(t, []string{"rcpt@corp.test"}, email.To)
	assert.Equal(t, "Report", email.Subject)
	assert.Contains(t, email.Body, "See attachment.")
	require.Len(t, email.Attachments, 1)
	assert.Equal(t, "report.bin", email.Attachments[0].FileName)
	assert.NotEmpty(t, email.Attachments[0].StoragePath)
}

func TestSanitizeNameReplacesUnsafeRunes(t *testing.T) {
	assert.Equal(t, "msg-1_example.com", sanitizeName("msg-1@example.com"))
	assert.Equal(t, "a_b_c.txt", sanitizeName("a/b\\c.txt"))
}
