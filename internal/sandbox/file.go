package sandbox

import (
	"archive/zip"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
	"github.com/ztmail/zerotrust/internal/metrics"
)

// FileWeights are the tunable contributions of the local file
// analyzers, plus the external engine's score-to-verdict mapping.
type FileWeights struct {
	TinyExecutable      float64
	HugeExecutable      float64
	HighEntropy         float64
	EmbeddedObjects     float64
	Macros              float64
	SuspiciousContent   float64
	ArchiveBadMember    float64
	ArchiveEncrypted    float64
	AnomalousSize       float64
	ExecMalicious       float64
	ExecSuspicious      float64
	EngineMalicious     float64 // 0-10 scale
	EngineSuspicious    float64 // 0-10 scale
	SuspiciousThreshold float64
}

// DefaultFileWeights returns the stock file-scoring weights.
func DefaultFileWeights() FileWeights {
	return FileWeights{
		TinyExecutable:      0.3,
		HugeExecutable:      0.2,
		HighEntropy:         0.4,
		EmbeddedObjects:     0.3,
		Macros:              0.5,
		SuspiciousContent:   0.2,
		ArchiveBadMember:    0.4,
		ArchiveEncrypted:    0.3,
		AnomalousSize:       0.1,
		ExecMalicious:       0.7,
		ExecSuspicious:      0.4,
		EngineMalicious:     8.0,
		EngineSuspicious:    4.0,
		SuspiciousThreshold: 0.5,
	}
}

const (
	tinyExecutableBytes = 1000
	hugeExecutableBytes = 50 * 1024 * 1024
	anomalousSizeBytes  = 100 * 1024 * 1024
	entropyWindowBytes  = 1024
	highEntropyBits     = 7.5
)

var (
	executableExts = []string{".exe", ".bat", ".cmd", ".ps1", ".scr", ".com", ".msi"}
	documentExts   = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".rtf"}
	archiveExts    = []string{".zip", ".rar", ".7z", ".tar", ".gz"}

	archiveBadMemberExts = []string{".exe", ".scr", ".js", ".vbs", ".bat", ".cmd", ".ps1"}
)

// FileSandbox detonates attachments: via the external engine when one
// is configured, with local static analysis as the fallback.
type FileSandbox struct {
	pool         *Pool
	engine       core.DetonationEngine // nil when no engine is configured
	pollInterval time.Duration
	maxAttempts  int
	weights      FileWeights
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewFileSandbox creates a file sandbox backed by a slot pool and an
// optional external detonation engine.
func NewFileSandbox(
	pool *Pool,
	engine core.DetonationEngine,
	pollInterval time.Duration,
	maxAttempts int,
	weights FileWeights,
	logger *zap.Logger,
	m *metrics.Metrics,
) *FileSandbox {
	return &FileSandbox{
		pool:         pool,
		engine:       engine,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		weights:      weights,
		logger:       logger,
		metrics:      m,
	}
}

// AnalyzeAttachment detonates one file. The sandbox slot is released
// on every exit path, including panics in an analyzer.
func (s *FileSandbox) AnalyzeAttachment(ctx context.Context, path string, fileType string) (result *core.SandboxResult) {
	logs := []string{fmt.Sprintf("state: %s", stateRequested)}

	slot, err := s.pool.Acquire()
	if err != nil {
		s.metrics.PoolExhausted.WithLabelValues(s.pool.Name()).Inc()
		return s.finish(&core.SandboxResult{
			Verdict:          core.VerdictError,
			Confidence:       0.0,
			ExecutionLogs:    append(logs, fmt.Sprintf("state: %s", stateFailed)),
			ThreatIndicators: []string{"resource_exhaustion"},
			AnalyzedAt:       time.Now(),
		})
	}
	defer s.pool.Release(slot)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("File analysis panicked",
				zap.String("path", path),
				zap.Any("panic", r))
			result = s.finish(&core.SandboxResult{
				Verdict:          core.VerdictError,
				Confidence:       0.0,
				ExecutionLogs:    append(logs, fmt.Sprintf("state: %s", stateFailed)),
				ThreatIndicators: []string{"analysis_failure"},
				AnalyzedAt:       time.Now(),
			})
		}
	}()

	logs = append(logs, fmt.Sprintf("state: %s", stateRunning), fmt.Sprintf("slot: %s", slot.ID()))

	if s.engine != nil {
		if engineResult, err := s.detonateExternal(ctx, path, logs); err == nil {
			return s.finish(engineResult)
		} else {
			s.logger.Warn("External detonation failed, falling back to local analysis",
				zap.String("path", path),
				zap.Error(err))
			logs = append(logs, "external engine failed: "+err.Error())
		}
	}

	return s.finish(s.analyzeLocal(path, fileType, logs))
}

// detonateExternal submits the file to the engine and polls the
// report endpoint on a fixed interval until the report is ready or
// the attempt budget runs out.
func (s *FileSandbox) detonateExternal(ctx context.Context, path string, logs []string) (*core.SandboxResult, error) {
	taskID, err := s.engine.Submit(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("engine submit failed: %w", err)
	}
	logs = append(logs, "engine task: "+taskID)

	started := time.Now()
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("engine polling cancelled after %d attempts (%s elapsed): %w",
				attempt-1, time.Since(started).Round(time.Second), ctx.Err())
		case <-time.After(s.pollInterval):
		}

		report, err := s.engine.Report(ctx, taskID)
		if err != nil {
			s.logger.Debug("Engine report poll failed",
				zap.String("task_id", taskID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		if !report.Ready {
			continue
		}

		verdict := core.VerdictSafe
		switch {
		case report.Score >= s.weights.EngineMalicious:
			verdict = core.VerdictMalicious
		case report.Score >= s.weights.EngineSuspicious:
			verdict = core.VerdictSuspicious
		}

		s.logger.Info("External detonation complete",
			zap.String("task_id", taskID),
			zap.Float64("engine_score", report.Score),
			zap.String("verdict", string(verdict)),
			zap.Int("attempts", attempt))

		return &core.SandboxResult{
			Verdict:          verdict,
			Confidence:       clamp01(report.Score / 10.0),
			ExecutionLogs:    append(logs, fmt.Sprintf("state: %s", stateCompleted)),
			ThreatIndicators: report.Indicators,
			AnalyzedAt:       time.Now(),
		}, nil
	}

	// The attempt budget carries the observability the timeout error
	// needs: how often we asked and for how long.
	return nil, fmt.Errorf("engine report not ready after %d attempts (%s elapsed)",
		s.maxAttempts, time.Since(started).Round(time.Second))
}

// analyzeLocal dispatches to a file-type specific static analyzer.
func (s *FileSandbox) analyzeLocal(path string, fileType string, logs []string) *core.SandboxResult {
	ext := strings.ToLower(filepath.Ext(path))
	if fileType != "" {
		ext = strings.ToLower(fileType)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
	}

	var score float64
	var indicators []string
	var verdict core.Verdict

	switch {
	case containsExt(executableExts, ext):
		score, indicators = s.analyzeExecutable(path)
		switch {
		case score >= s.weights.ExecMalicious:
			verdict = core.VerdictMalicious
		case score > s.weights.ExecSuspicious:
			verdict = core.VerdictSuspicious
		default:
			verdict = core.VerdictSafe
		}
	case containsExt(documentExts, ext):
		score, indicators = s.analyzeDocument(path)
		verdict = verdictForScore(score, s.weights.ExecMalicious, s.weights.ExecSuspicious)
	case containsExt(archiveExts, ext):
		score, indicators = s.analyzeArchive(path, ext)
		verdict = verdictForScore(score, s.weights.ExecMalicious, s.weights.ExecSuspicious)
	default:
		score, indicators = s.analyzeOther(path)
		if score > s.weights.SuspiciousThreshold {
			verdict = core.VerdictSuspicious
		} else {
			verdict = core.VerdictSafe
		}
	}

	s.logger.Info("Local file analysis complete",
		zap.String("path", path),
		zap.String("ext", ext),
		zap.Float64("score", score),
		zap.String("verdict", string(verdict)))

	return &core.SandboxResult{
		Verdict:          verdict,
		Confidence:       confidenceForScore(score),
		ExecutionLogs:    append(logs, fmt.Sprintf("state: %s", stateCompleted)),
		ThreatIndicators: indicators,
		AnalyzedAt:       time.Now(),
	}
}

// analyzeExecutable scores size anomalies and the byte entropy of the
// first 1KB. Droppers tend to be tiny; packed payloads run hot on
// entropy.
func (s *FileSandbox) analyzeExecutable(path string) (float64, []string) {
	var score float64
	var indicators []string

	info, err := os.Stat(path)
	if err != nil {
		return 0, []string{"file_unreadable"}
	}

	if info.Size() < tinyExecutableBytes {
		score += s.weights.TinyExecutable
		indicators = append(indicators, "suspicious_size")
	}
	if info.Size() > hugeExecutableBytes {
		score += s.weights.HugeExecutable
		indicators = append(indicators, "oversized_executable")
	}

	if entropy, err := headEntropy(path, entropyWindowBytes); err == nil && entropy > highEntropyBits {
		score += s.weights.HighEntropy
		indicators = append(indicators, "high_entropy")
	}

	return clamp01(score), indicators
}

// analyzeDocument scans for embedded objects, macros and suspicious
// content markers.
func (s *FileSandbox) analyzeDocument(path string) (float64, []string) {
	var score float64
	var indicators []string

	content, err := os.ReadFile(path)
	if err != nil {
		return 0, []string{"file_unreadable"}
	}
	body := string(content)

	if strings.Contains(body, "/EmbeddedFile") || strings.Contains(body, "/ObjStm") ||
		strings.Contains(body, "oleObject") {
		score += s.weights.EmbeddedObjects
		indicators = append(indicators, "embedded_objects")
	}
	if strings.Contains(body, "vbaProject") || strings.Contains(body, "AutoOpen") ||
		strings.Contains(body, "/OpenAction") || strings.Contains(body, "/AA") {
		score += s.weights.Macros
		indicators = append(indicators, "macros")
	}
	if strings.Contains(body, "/JavaScript") || strings.Contains(body, "/JS") ||
		strings.Contains(body, "/Launch") {
		score += s.weights.SuspiciousContent
		indicators = append(indicators, "suspicious_content")
	}

	return clamp01(score), indicators
}

// analyzeArchive scores suspicious member extensions and password
// protection. Zip archives are inspected structurally; other formats
// fall back to a raw byte scan.
func (s *FileSandbox) analyzeArchive(path string, ext string) (float64, []string) {
	var score float64
	var indicators []string

	if ext == ".zip" {
		reader, err := zip.OpenReader(path)
		if err != nil {
			return clamp01(s.weights.ArchiveEncrypted), []string{"unreadable_archive"}
		}
		defer reader.Close()

		badMember := false
		encrypted := false
		for _, member := range reader.File {
			if containsExt(archiveBadMemberExts, strings.ToLower(filepath.Ext(member.Name))) {
				badMember = true
			}
			if member.Flags&0x1 != 0 {
				encrypted = true
			}
		}
		if badMember {
			score += s.weights.ArchiveBadMember
			indicators = append(indicators, "suspicious_archive_member")
		}
		if encrypted {
			score += s.weights.ArchiveEncrypted
			indicators = append(indicators, "password_protected")
		}
		return clamp01(score), indicators
	}

	// Non-zip formats: scan the raw bytes for member names with
	// dangerous extensions.
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, []string{"file_unreadable"}
	}
	body := strings.ToLower(string(content))
	for _, bad := range archiveBadMemberExts {
		if strings.Contains(body, bad) {
			score += s.weights.ArchiveBadMember
			indicators = append(indicators, "suspicious_archive_member")
			break
		}
	}

	return clamp01(score), indicators
}

// analyzeOther only flags anomalous size.
func (s *FileSandbox) analyzeOther(path string) (float64, []string) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, []string{"file_unreadable"}
	}
	if info.Size() > anomalousSizeBytes {
		return clamp01(s.weights.AnomalousSize), []string{"anomalous_size"}
	}
	return 0, nil
}

func (s *FileSandbox) finish(result *core.SandboxResult) *core.SandboxResult {
	s.metrics.Verdicts.WithLabelValues(string(core.KindAttachment), string(result.Verdict)).Inc()
	return result
}

// headEntropy computes the Shannon entropy of the file's first window
// bytes.
func headEntropy(path string, window int) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, window)
	n, err := f.Read(buf)
	if n == 0 {
		if err != nil {
			return 0, err
		}
		return 0, nil
	}

	var counts [256]int
	for _, b := range buf[:n] {
		counts[b]++
	}

	entropy := 0.0
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / float64(n)
		entropy -= p * math.Log2(p)
	}
	return entropy, nil
}

func verdictForScore(score, malicious, suspicious float64) core.Verdict {
	switch {
	case score > malicious:
		return core.VerdictMalicious
	case score > suspicious:
		return core.VerdictSuspicious
	default:
		return core.VerdictSafe
	}
}

func containsExt(exts []string, ext string) bool {
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}
