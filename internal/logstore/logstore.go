// Package logstore manages the directory of run logs: one timestamped
// file per run, bounded retention, optional compression and at-rest
// encryption of the retained file.
package logstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/klauspost/compress/gzip"

	"github.com/cek/rclonebb/internal/logging"
	"github.com/cek/rclonebb/internal/types"
	"github.com/cek/rclonebb/pkg/utils"
)

// Log file names start with the timestamp so that lexicographic and
// chronological ordering coincide.
const (
	logPrefix        = "rclonebb_"
	logTimeLayout    = "20060102_150405"
	mailFailuresName = "rclonebb_mail_failures.log"
)

var logNameRe = regexp.MustCompile(`^rclonebb_(\d{8}_\d{6})_(sync|check|cryptcheck)\.log(\.gz)?(\.age)?$`)

// StoreError represents an error from a log store operation.
type StoreError struct {
	Operation   string // "create", "compress", "encrypt", "prune"
	Path        string
	Err         error
	Recoverable bool
}

func (e *StoreError) Error() string {
	severity := "CRITICAL"
	if e.Recoverable {
		severity = "WARNING"
	}
	return severity + ": log store " + e.Operation + " failed for " + e.Path + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// LogRecord is the handle for one run's log file. The store owns it for
// its whole lifetime; the runner and reporter only borrow the handle.
type LogRecord struct {
	Path       string
	Timestamp  time.Time
	Mode       types.Mode
	Size       int64
	Compressed bool
	Encrypted  bool

	file *os.File
}

// Write appends to the open log file. Only valid between CreateLog and
// Close.
func (r *LogRecord) Write(p []byte) (int, error) {
	if r.file == nil {
		return 0, fmt.Errorf("log file %s is not open", r.Path)
	}
	n, err := r.file.Write(p)
	r.Size += int64(n)
	return n, err
}

// Close finalizes the log file. Safe to call more than once.
func (r *LogRecord) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	if size, sizeErr := utils.GetFileSize(r.Path); sizeErr == nil {
		r.Size = size
	}
	return err
}

// Store manages the log directory. Single-writer: concurrent runs
// against the same directory are not supported.
type Store struct {
	dir    string
	logger *logging.Logger

	now func() time.Time
}

// New creates a log store over dir.
func New(dir string, logger *logging.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

// Dir returns the managed log directory.
func (s *Store) Dir() string {
	return s.dir
}

// CreateLog creates the run's log file, creating the log directory if
// needed. O_SYNC keeps the file current even if the run dies mid-way.
func (s *Store) CreateLog(mode types.Mode) (*LogRecord, error) {
	if err := utils.EnsureDir(s.dir); err != nil {
		return nil, &StoreError{Operation: "create", Path: s.dir, Err: err}
	}

	ts := s.now()
	name := fmt.Sprintf("%s%s_%s.log", logPrefix, ts.Format(logTimeLayout), mode)
	path := filepath.Join(s.dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0600)
	if err != nil {
		return nil, &StoreError{Operation: "create", Path: path, Err: err}
	}

	return &LogRecord{
		Path:      path,
		Timestamp: ts,
		Mode:      mode,
		file:      file,
	}, nil
}

// ListLogs returns the retained logs, newest first. Files that do not
// match the naming convention (including the mail failure log) are
// ignored.
func (s *Store) ListLogs() ([]*LogRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StoreError{Operation: "list", Path: s.dir, Err: err}
	}

	var records []*LogRecord
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		record, ok := parseLogName(entry.Name())
		if !ok {
			continue
		}
		record.Path = filepath.Join(s.dir, entry.Name())
		if info, err := entry.Info(); err == nil {
			record.Size = info.Size()
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}

func parseLogName(name string) (*LogRecord, bool) {
	m := logNameRe.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	ts, err := time.ParseInLocation(logTimeLayout, m[1], time.Local)
	if err != nil {
		return nil, false
	}
	return &LogRecord{
		Timestamp:  ts,
		Mode:       types.Mode(m[2]),
		Compressed: m[3] != "",
		Encrypted:  m[4] != "",
	}, true
}

// Prune deletes all but the newest maxCount logs. A maxCount of zero or
// less keeps only the current run's log. Individual deletion failures
// are warnings; Prune never aborts the run.
func (s *Store) Prune(maxCount int, current *LogRecord) int {
	records, err := s.ListLogs()
	if err != nil {
		s.logger.Warning("Log retention: cannot list logs: %v", err)
		return 0
	}

	keep := maxCount
	if keep <= 0 {
		keep = 0
	}

	deleted := 0
	for i, record := range records {
		if keep > 0 && i < keep {
			continue
		}
		if keep <= 0 && current != nil && record.Path == current.Path {
			continue
		}
		if err := os.Remove(record.Path); err != nil {
			s.logger.Warning("Log retention: failed to delete %s: %v", filepath.Base(record.Path), err)
			continue
		}
		s.logger.Debug("Log retention: deleted %s", filepath.Base(record.Path))
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("Log retention: deleted %d old log(s), keeping newest %d", deleted, maxCount)
	}
	return deleted
}

// Compress replaces the log file with a gzip equivalent. The record
// keeps its logical identity; only the physical extension changes. On
// failure the original file is left in place and a recoverable error is
// returned.
func (s *Store) Compress(record *LogRecord) error {
	if record.Compressed {
		return nil
	}
	if record.file != nil {
		return &StoreError{Operation: "compress", Path: record.Path,
			Err: fmt.Errorf("log is still open"), Recoverable: true}
	}

	gzPath := record.Path + ".gz"
	if err := gzipFile(record.Path, gzPath); err != nil {
		os.Remove(gzPath)
		return &StoreError{Operation: "compress", Path: record.Path, Err: err, Recoverable: true}
	}
	if err := os.Remove(record.Path); err != nil {
		s.logger.Warning("Compressed %s but could not remove the original: %v",
			filepath.Base(record.Path), err)
	}

	record.Path = gzPath
	record.Compressed = true
	if size, err := utils.GetFileSize(gzPath); err == nil {
		record.Size = size
		s.logger.Debug("Compressed log is %s", utils.FormatBytes(size))
	}
	return nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	gw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		out.Close()
		return err
	}
	gw.Name = filepath.Base(src)

	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Encrypt seals the retained log to the given age recipients, replacing
// the plaintext (or gzip) file with a .age file. Runs after the
// notification attempt so the attachment stays readable for recipients.
func (s *Store) Encrypt(record *LogRecord, recipients []string) error {
	if record.Encrypted {
		return nil
	}
	if record.file != nil {
		return &StoreError{Operation: "encrypt", Path: record.Path,
			Err: fmt.Errorf("log is still open"), Recoverable: true}
	}

	parsed, err := parseRecipients(recipients)
	if err != nil {
		return &StoreError{Operation: "encrypt", Path: record.Path, Err: err, Recoverable: true}
	}

	agePath := record.Path + ".age"
	if err := ageSealFile(record.Path, agePath, parsed); err != nil {
		os.Remove(agePath)
		return &StoreError{Operation: "encrypt", Path: record.Path, Err: err, Recoverable: true}
	}
	if err := os.Remove(record.Path); err != nil {
		s.logger.Warning("Encrypted %s but could not remove the plaintext: %v",
			filepath.Base(record.Path), err)
	}

	record.Path = agePath
	record.Encrypted = true
	if info, err := os.Stat(agePath); err == nil {
		record.Size = info.Size()
	}
	return nil
}

func parseRecipients(recipients []string) ([]age.Recipient, error) {
	var parsed []age.Recipient
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		recipient, err := age.ParseX25519Recipient(r)
		if err != nil {
			return nil, fmt.Errorf("invalid age recipient %q: %w", r, err)
		}
		parsed = append(parsed, recipient)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("no usable age recipients")
	}
	return parsed, nil
}

func ageSealFile(src, dst string, recipients []age.Recipient) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	aw, err := age.Encrypt(out, recipients...)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(aw, in); err != nil {
		aw.Close()
		out.Close()
		return err
	}
	if err := aw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// MailFailurePath returns the path of the delivery-failure log. It
// lives outside the run-log naming convention so Prune never touches
// it.
func (s *Store) MailFailurePath() string {
	return filepath.Join(s.dir, mailFailuresName)
}

// AppendMailFailure records a notification delivery failure in a file
// independent of the run log (the run log may be exactly what failed to
// go out).
func (s *Store) AppendMailFailure(mode types.Mode, deliveryErr error) error {
	if err := utils.EnsureDir(s.dir); err != nil {
		return &StoreError{Operation: "mail_failure", Path: s.dir, Err: err, Recoverable: true}
	}
	f, err := os.OpenFile(s.MailFailurePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return &StoreError{Operation: "mail_failure", Path: s.MailFailurePath(), Err: err, Recoverable: true}
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s: %v\n", s.now().Format("2006-01-02 15:04:05"), mode, deliveryErr)
	if _, err := f.WriteString(line); err != nil {
		return &StoreError{Operation: "mail_failure", Path: s.MailFailurePath(), Err: err, Recoverable: true}
	}
	return nil
}
